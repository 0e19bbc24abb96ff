package scanpair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// BootstrapLink is what the QR code carries.
type BootstrapLink struct {
	ScanSessionID string
	AuthToken     string
}

// ParseBootstrapURL extracts the scan session id and auth token from a
// scanned bootstrap URL.
func ParseBootstrapURL(raw string) (BootstrapLink, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return BootstrapLink{}, &HandoffError{Kind: HandoffInvalidLink, Err: fmt.Errorf("not a url: %q", raw)}
	}
	q := u.Query()
	link := BootstrapLink{ScanSessionID: q.Get("scanSessionId"), AuthToken: q.Get("auth_token")}
	if link.ScanSessionID == "" || link.AuthToken == "" {
		return BootstrapLink{}, &HandoffError{Kind: HandoffInvalidLink, Err: errors.New("missing scanSessionId or auth_token")}
	}
	return link, nil
}

// AuthSession is the phone's signed-in identity after the handoff.
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// CaptureTarget is where the phone goes once signed in.
type CaptureTarget struct {
	ScanSessionID string
	Session       *AuthSession
}

// Handoff signs the phone in as the desktop user without a password.
type Handoff struct {
	api         *APIClient
	mailbox     Mailbox
	nav         *Navigator
	callbackURL string
	now         func() time.Time

	exchanging sync.Mutex
}

// NewHandoff creates a handoff whose sign-in link redirects to callbackURL.
func NewHandoff(api *APIClient, mailbox Mailbox, nav *Navigator, callbackURL string) *Handoff {
	return &Handoff{api: api, mailbox: mailbox, nav: nav, callbackURL: callbackURL, now: time.Now}
}

// Start runs the whole handoff for a scanned bootstrap URL. Only one
// exchange runs at a time; a concurrent call gets ErrExchangeInFlight.
func (h *Handoff) Start(ctx context.Context, bootstrapURL string) (*CaptureTarget, error) {
	link, err := ParseBootstrapURL(bootstrapURL)
	if err != nil {
		return nil, err
	}
	if !h.exchanging.TryLock() {
		return nil, ErrExchangeInFlight
	}
	defer h.exchanging.Unlock()

	if err := h.mailbox.Put(MobileAuthContext{
		ScanSessionID: link.ScanSessionID,
		AuthToken:     link.AuthToken,
		CreatedAt:     h.now(),
	}); err != nil {
		return nil, fmt.Errorf("store auth context: %w", err)
	}

	signIn, err := h.api.ExchangeAuthToken(ctx, link.AuthToken, h.callbackURL)
	if err != nil {
		return nil, h.fail(&HandoffError{Kind: HandoffExchangeFailed, ProviderMessage: providerMessage(err), Err: err})
	}

	cb, err := h.nav.Navigate(ctx, signIn)
	if err != nil {
		return nil, h.fail(&HandoffError{Kind: HandoffSessionFailed, Err: err})
	}
	return h.Callback(cb)
}

// Callback completes the handoff from the provider's redirect. Credentials
// or an error travel in the URL fragment, form-encoded.
func (h *Handoff) Callback(cb *url.URL) (*CaptureTarget, error) {
	// Fragment is already unescaped once; parse the raw form.
	frag, err := url.ParseQuery(cb.EscapedFragment())
	if err != nil {
		return nil, h.fail(&HandoffError{Kind: HandoffSessionFailed, Err: fmt.Errorf("parse callback fragment: %w", err)})
	}
	if code := frag.Get("error"); code != "" {
		msg := frag.Get("error_description")
		slog.Warn("security.signin_link_invalid", "error", code, "error_code", frag.Get("error_code"))
		return nil, h.fail(&HandoffError{Kind: HandoffProviderError, ProviderMessage: msg, Err: errors.New(code)})
	}

	access := frag.Get("access_token")
	if access == "" {
		return nil, h.fail(&HandoffError{Kind: HandoffSessionFailed, Err: errors.New("callback carried no access token")})
	}
	sess := &AuthSession{
		AccessToken:  access,
		RefreshToken: frag.Get("refresh_token"),
		TokenType:    frag.Get("token_type"),
	}
	if secs, err := strconv.Atoi(frag.Get("expires_in")); err == nil && secs > 0 {
		sess.ExpiresAt = h.now().Add(time.Duration(secs) * time.Second)
	}

	mctx, err := h.mailbox.Take()
	if err != nil {
		return nil, &HandoffError{Kind: HandoffMissingContext, Err: err}
	}
	slog.Info("mobile signed in", "session", mctx.ScanSessionID)
	return &CaptureTarget{ScanSessionID: mctx.ScanSessionID, Session: sess}, nil
}

func (h *Handoff) fail(err *HandoffError) error {
	if derr := h.mailbox.Discard(); derr != nil {
		slog.Warn("discard auth context failed", "error", derr)
	}
	return err
}

func providerMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// Package authbridge turns a scan session's one-time auth token into a
// sign-in link, and acts as the identity provider that link points at.
//
// Flow: the phone POSTs the auth token to the bridge and gets back a link to
// /v1/auth/verify. Navigating to that link consumes it and redirects to the
// caller's redirectTo with credentials (or an error) in the URL fragment.
package authbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/scansession"
)

// VerifyPath is the provider endpoint sign-in links point at.
const VerifyPath = "/v1/auth/verify"

var (
	ErrRedirectNotAllowed = errors.New("redirect target not allowed")
	ErrLinkInvalid        = errors.New("sign-in link is invalid or has expired")
)

// Config configures a Bridge.
type Config struct {
	PublicURL        string   // base URL of this gateway
	CallbackURL      string   // default redirect target
	AllowedRedirects []string // URL prefixes accepted as redirectTo
	LinkTTL          time.Duration
}

// Bridge implements the auth-bridge exchange and the provider redirect.
type Bridge struct {
	sessions *scansession.Service
	tokens   *TokenIssuer
	links    *LinkStore
	cfg      Config
}

func NewBridge(sessions *scansession.Service, tokens *TokenIssuer, cfg Config) *Bridge {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = cfg.PublicURL + "/m/callback"
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 5 * time.Minute
	}
	return &Bridge{
		sessions: sessions,
		tokens:   tokens,
		links:    NewLinkStore(cfg.LinkTTL),
		cfg:      cfg,
	}
}

// Tokens returns the issuer used for sign-ins.
func (b *Bridge) Tokens() *TokenIssuer { return b.tokens }

// Exchange redeems authToken and returns a one-time sign-in link that will
// land on redirectTo. An empty redirectTo uses the configured callback.
func (b *Bridge) Exchange(ctx context.Context, authToken, redirectTo string) (string, error) {
	if redirectTo == "" {
		redirectTo = b.cfg.CallbackURL
	}
	if !b.redirectAllowed(redirectTo) {
		slog.Warn("security.redirect_rejected", "redirect_to", redirectTo)
		return "", ErrRedirectNotAllowed
	}

	sess, err := b.sessions.Exchange(ctx, authToken)
	if err != nil {
		return "", err
	}

	nonce, err := b.links.Issue(Link{
		UserID:        sess.OwnerUserID,
		ScanSessionID: sess.ID,
		RedirectTo:    redirectTo,
		IssuedAt:      time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("issue sign-in link: %w", err)
	}

	slog.Info("auth bridge link issued", "session", sess.ID, "user", sess.OwnerUserID)
	q := url.Values{}
	q.Set("token", nonce)
	q.Set("redirect_to", redirectTo)
	return b.cfg.PublicURL + VerifyPath + "?" + q.Encode(), nil
}

// Verification is the outcome of following a sign-in link.
type Verification struct {
	Location string     // redirect target including fragment
	Tokens   *TokenPair // nil on failure
	UserID   string
}

// Verify consumes the link nonce. It always yields a redirect: on success
// the fragment carries the token pair, otherwise error parameters. An
// unknown or expired nonce redirects to redirectTo (from the link's query)
// when it is allowed, else to the configured callback. The returned error
// is informational.
func (b *Bridge) Verify(nonce, redirectTo string) (*Verification, error) {
	link, ok := b.links.Consume(nonce)
	if !ok {
		target := b.cfg.CallbackURL
		if redirectTo != "" && b.redirectAllowed(redirectTo) {
			target = redirectTo
		}
		slog.Warn("security.signin_link_invalid", "redirect_to", target)
		return &Verification{
			Location: withFragment(target, errorFragment("access_denied", "otp_expired", "Email link is invalid or has expired")),
		}, ErrLinkInvalid
	}

	pair, err := b.tokens.Issue(link.UserID)
	if err != nil {
		slog.Error("issue tokens failed", "user", link.UserID, "error", err)
		return &Verification{
			Location: withFragment(link.RedirectTo, errorFragment("server_error", "unexpected_failure", "Could not create a session")),
		}, err
	}

	frag := url.Values{}
	frag.Set("access_token", pair.AccessToken)
	frag.Set("refresh_token", pair.RefreshToken)
	frag.Set("expires_in", strconv.Itoa(pair.ExpiresIn))
	frag.Set("token_type", pair.TokenType)
	frag.Set("type", "magiclink")

	slog.Info("auth bridge sign-in completed", "session", link.ScanSessionID, "user", link.UserID)
	return &Verification{
		Location: withFragment(link.RedirectTo, frag.Encode()),
		Tokens:   pair,
		UserID:   link.UserID,
	}, nil
}

func (b *Bridge) redirectAllowed(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if target == b.cfg.CallbackURL {
		return true
	}
	for _, prefix := range b.cfg.AllowedRedirects {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

func errorFragment(errCode, code, description string) string {
	v := url.Values{}
	v.Set("error", errCode)
	v.Set("error_code", code)
	v.Set("error_description", description)
	return v.Encode()
}

func withFragment(target, fragment string) string {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	return target + "#" + fragment
}

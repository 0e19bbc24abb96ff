package scanpair

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func requireEmpty(t *testing.T, mb Mailbox) {
	t.Helper()
	if _, err := mb.Take(); !errors.Is(err, ErrMailboxEmpty) {
		t.Errorf("mailbox not empty: %v", err)
	}
}

func TestParseBootstrapURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantID  string
		wantErr bool
	}{
		{"https://gw.example.com/m/scan?scanSessionId=S1&auth_token=T1", "S1", false},
		{"https://gw.example.com/m/scan?auth_token=T1&scanSessionId=S1", "S1", false},
		{"https://gw.example.com/m/scan?scanSessionId=S1", "", true},
		{"https://gw.example.com/m/scan?auth_token=T1", "", true},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		link, err := ParseBootstrapURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBootstrapURL(%q) err = %v", tt.raw, err)
			continue
		}
		if err != nil {
			var he *HandoffError
			if !errors.As(err, &he) || he.Kind != HandoffInvalidLink {
				t.Errorf("ParseBootstrapURL(%q) err = %v, want invalid link", tt.raw, err)
			}
			continue
		}
		if link.ScanSessionID != tt.wantID || link.AuthToken != "T1" {
			t.Errorf("ParseBootstrapURL(%q) = %+v", tt.raw, link)
		}
	}
}

func TestScenario_MobileHandoff(t *testing.T) {
	g := newTestGateway(t)
	ctx := testContext(t)
	access := g.signIn(t, "u1")
	sess, err := g.api.WithToken(access).CreateScanSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	mb := NewMemoryMailbox()
	h := g.handoff(t, mb)
	target, err := h.Start(ctx, sess.BootstrapURL)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if target.ScanSessionID != sess.ID {
		t.Errorf("target session = %q, want %q", target.ScanSessionID, sess.ID)
	}
	if target.Session.AccessToken == "" || target.Session.RefreshToken == "" || target.Session.ExpiresAt.Before(time.Now()) {
		t.Errorf("auth session = %+v", target.Session)
	}
	requireEmpty(t, mb)

	// The phone is now the desktop user.
	conn := g.dial(t, target.Session.AccessToken)
	if conn.UserID() != "u1" {
		t.Errorf("mobile user = %q", conn.UserID())
	}

	// The identity provider left its own session cookie behind.
	verify, _ := url.Parse(g.url + "/v1/auth/refresh")
	if len(h.nav.Jar().Cookies(verify)) == 0 {
		t.Error("no provider session cookie in the jar")
	}
}

func TestHandoff_ReusedTokenFails(t *testing.T) {
	g := newTestGateway(t)
	ctx := testContext(t)
	sess, _ := g.api.WithToken(g.signIn(t, "u1")).CreateScanSession(ctx)

	mb := NewMemoryMailbox()
	h := g.handoff(t, mb)
	if _, err := h.Start(ctx, sess.BootstrapURL); err != nil {
		t.Fatal(err)
	}

	_, err := h.Start(ctx, sess.BootstrapURL)
	var he *HandoffError
	if !errors.As(err, &he) || he.Kind != HandoffExchangeFailed {
		t.Fatalf("second Start err = %v", err)
	}
	if he.ProviderMessage != "auth token already used" {
		t.Errorf("provider message = %q", he.ProviderMessage)
	}
	requireEmpty(t, mb)
}

func TestHandoff_ProviderErrorFragment(t *testing.T) {
	tests := []struct {
		name        string
		description string
	}{
		{"plain", "Email link is invalid or has expired"},
		{"percent", "Quota 100% used"},
		{"ampersand", "Terms & conditions rejected"},
		{"plus", "a+b=c"},
		{"mixed", "50% off & more + extra %zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t)
			mb := NewMemoryMailbox()
			h := g.handoff(t, mb)
			mb.Put(MobileAuthContext{ScanSessionID: "S1", AuthToken: "T1", CreatedAt: time.Now()})

			frag := url.Values{}
			frag.Set("error", "access_denied")
			frag.Set("error_code", "otp_expired")
			frag.Set("error_description", tt.description)
			cb, err := url.Parse(testCallbackURL + "#" + frag.Encode())
			if err != nil {
				t.Fatal(err)
			}
			_, err = h.Callback(cb)
			var he *HandoffError
			if !errors.As(err, &he) || he.Kind != HandoffProviderError {
				t.Fatalf("Callback err = %v", err)
			}
			if he.ProviderMessage != tt.description {
				t.Errorf("provider message = %q, want %q", he.ProviderMessage, tt.description)
			}
			requireEmpty(t, mb)

			screen := ScreenFor(err, ParseLanguage("en"))
			if screen.Explanation != tt.description || screen.Action != "Return to start" {
				t.Errorf("screen = %+v", screen)
			}
		})
	}
}

func TestHandoff_ReplayedSignInLink(t *testing.T) {
	g := newTestGateway(t)
	ctx := testContext(t)
	access := g.signIn(t, "u1")
	sess, err := g.api.WithToken(access).CreateScanSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	mb := NewMemoryMailbox()
	h := g.handoff(t, mb)
	link, err := g.api.ExchangeAuthToken(ctx, sess.AuthToken, testCallbackURL)
	if err != nil {
		t.Fatalf("ExchangeAuthToken: %v", err)
	}
	if _, err := h.nav.Navigate(ctx, link); err != nil {
		t.Fatalf("first Navigate: %v", err)
	}

	// The link is spent; the provider still lands on the device callback.
	cb, err := h.nav.Navigate(ctx, link)
	if err != nil {
		t.Fatalf("replayed Navigate: %v", err)
	}
	mb.Put(MobileAuthContext{ScanSessionID: sess.ID, AuthToken: sess.AuthToken, CreatedAt: time.Now()})
	_, err = h.Callback(cb)
	var he *HandoffError
	if !errors.As(err, &he) || he.Kind != HandoffProviderError {
		t.Fatalf("Callback err = %v", err)
	}
	if he.ProviderMessage != "Email link is invalid or has expired" {
		t.Errorf("provider message = %q", he.ProviderMessage)
	}
	requireEmpty(t, mb)
}

func TestHandoff_CallbackWithoutContext(t *testing.T) {
	g := newTestGateway(t)
	h := g.handoff(t, NewMemoryMailbox())
	cb, _ := url.Parse(testCallbackURL + "#access_token=a&refresh_token=r&expires_in=60&token_type=bearer&type=magiclink")
	_, err := h.Callback(cb)
	var he *HandoffError
	if !errors.As(err, &he) || he.Kind != HandoffMissingContext {
		t.Errorf("Callback err = %v", err)
	}
}

func TestHandoff_ExchangeInFlight(t *testing.T) {
	g := newTestGateway(t)
	mb := NewMemoryMailbox()
	h := g.handoff(t, mb)

	h.exchanging.Lock()
	_, err := h.Start(testContext(t), "https://gw.example.com/m/scan?scanSessionId=S1&auth_token=T1")
	h.exchanging.Unlock()
	if !errors.Is(err, ErrExchangeInFlight) {
		t.Errorf("Start err = %v", err)
	}
	requireEmpty(t, mb)
}

func TestHandoff_UnknownTokenDiscardsContext(t *testing.T) {
	g := newTestGateway(t)
	mb := NewMemoryMailbox()
	h := g.handoff(t, mb)

	_, err := h.Start(testContext(t), g.url+"/m/scan?scanSessionId=S1&auth_token=bogus")
	var he *HandoffError
	if !errors.As(err, &he) || he.Kind != HandoffExchangeFailed {
		t.Fatalf("Start err = %v", err)
	}
	requireEmpty(t, mb)
}

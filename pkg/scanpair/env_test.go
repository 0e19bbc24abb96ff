package scanpair

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/bus"
	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/gateway/methods"
	httpapi "github.com/nextlevelbuilder/goscan/internal/http"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store/sqlite"
)

const (
	testGatewayToken = "gw-token"
	testCallbackURL  = "https://app.example.com/m/callback"
)

// testGateway is a complete in-process gateway.
type testGateway struct {
	url string
	api *APIClient
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "goscan.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sessions := scansession.NewService(st, srv.URL)
	tokens := authbridge.NewTokenIssuer("secret", time.Hour, 24*time.Hour)
	bridge := authbridge.NewBridge(sessions, tokens, authbridge.Config{
		PublicURL:        srv.URL,
		AllowedRedirects: []string{"https://app.example.com/"},
	})
	images, err := objstore.NewLocalStore(t.TempDir(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.NewServer(bus.New(), tokens, nil)
	methods.NewChannelMethods(gw, sessions).Register(gw.Router())

	mux.Handle("/", httpapi.NewRouter(httpapi.Deps{
		Gateway:      gw,
		Sessions:     sessions,
		Bridge:       bridge,
		Images:       images,
		GatewayToken: testGatewayToken,
		MaxImageSize: 4 << 20,
		Version:      "test",
	}))
	return &testGateway{url: srv.URL, api: NewAPIClient(srv.URL, srv.Client())}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (g *testGateway) signIn(t *testing.T, userID string) string {
	t.Helper()
	pair, err := g.api.SignIn(testContext(t), testGatewayToken, userID)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return pair.AccessToken
}

func (g *testGateway) dial(t *testing.T, accessToken string) *Conn {
	t.Helper()
	conn, err := Dial(testContext(t), g.url, accessToken)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (g *testGateway) handoff(t *testing.T, mailbox Mailbox) *Handoff {
	t.Helper()
	nav, err := NewNavigator(testCallbackURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewHandoff(g.api, mailbox, nav, testCallbackURL)
}

func waitState(t *testing.T, lc *Lifecycle, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := lc.Wait(ctx, want)
	if err != nil {
		t.Fatalf("%s lifecycle: waited for %s, stuck in %s", lc.Role(), want, got)
	}
}

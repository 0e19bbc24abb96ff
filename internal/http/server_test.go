package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/bus"
	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store/sqlite"
)

const testGatewayToken = "gw-token"

type testAPI struct {
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "goscan.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	api := &testAPI{}
	mux := http.NewServeMux()
	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	base := api.srv.URL

	sessions := scansession.NewService(st, base)
	tokens := authbridge.NewTokenIssuer("secret", time.Hour, 24*time.Hour)
	bridge := authbridge.NewBridge(sessions, tokens, authbridge.Config{
		PublicURL:        base,
		AllowedRedirects: []string{"https://app.example.com/"},
	})
	images, err := objstore.NewLocalStore(t.TempDir(), base)
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.NewServer(bus.New(), tokens, nil)

	mux.Handle("/", NewRouter(Deps{
		Gateway:      gw,
		Sessions:     sessions,
		Bridge:       bridge,
		Images:       images,
		GatewayToken: testGatewayToken,
		MaxImageSize: 1 << 20,
		Version:      "test",
	}))
	return api
}

func (a *testAPI) do(t *testing.T, method, path, bearer string, body io.Reader, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (a *testAPI) signIn(t *testing.T, userID string) authbridge.TokenPair {
	t.Helper()
	resp := a.do(t, "POST", "/v1/auth/token", testGatewayToken, nil, map[string]string{"X-GoScan-User-Id": userID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign in status = %d", resp.StatusCode)
	}
	return decode[authbridge.TokenPair](t, resp)
}

func (a *testAPI) createSession(t *testing.T, access string) createScanSessionResponse {
	t.Helper()
	resp := a.do(t, "POST", "/v1/scan-sessions", access, nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	return decode[createScanSessionResponse](t, resp)
}

func TestAuthToken_RequiresGatewayToken(t *testing.T) {
	api := newTestAPI(t)
	if resp := api.do(t, "POST", "/v1/auth/token", "wrong", nil, map[string]string{"X-GoScan-User-Id": "u1"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong gateway token status = %d", resp.StatusCode)
	}
	if resp := api.do(t, "POST", "/v1/auth/token", testGatewayToken, nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user status = %d", resp.StatusCode)
	}
	if resp := api.do(t, "POST", "/v1/scan-sessions", "", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated create status = %d", resp.StatusCode)
	}
}

// Desktop requests a session and renders a QR of the bootstrap URL.
func TestScenario_DesktopRequestsSession(t *testing.T) {
	api := newTestAPI(t)
	pair := api.signIn(t, "desktop-user")
	created := api.createSession(t, pair.AccessToken)

	u, err := url.Parse(created.BootstrapURL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != scansession.BootstrapPath ||
		u.Query().Get("scanSessionId") != created.ScanSessionID ||
		u.Query().Get("auth_token") != created.AuthToken {
		t.Errorf("bootstrap url = %s", created.BootstrapURL)
	}
	if !strings.Contains(created.BootstrapURL, "?scanSessionId="+created.ScanSessionID+"&auth_token=") {
		t.Errorf("bootstrap query order = %s", created.BootstrapURL)
	}

	qrPath := "/v1/scan-sessions/" + created.ScanSessionID + "/qr.png?auth_token=" + url.QueryEscape(created.AuthToken)
	resp := api.do(t, "GET", qrPath, pair.AccessToken, nil, nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("qr status = %d, type = %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	png, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("qr body is not a PNG")
	}

	other := api.signIn(t, "someone-else")
	if resp := api.do(t, "GET", qrPath, other.AccessToken, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user qr status = %d", resp.StatusCode)
	}
	if resp := api.do(t, "GET", "/v1/scan-sessions/"+created.ScanSessionID+"/qr.png?auth_token=nope", pair.AccessToken, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("wrong token qr status = %d", resp.StatusCode)
	}
}

func TestBridgeAndVerify(t *testing.T) {
	api := newTestAPI(t)
	pair := api.signIn(t, "desktop-user")
	created := api.createSession(t, pair.AccessToken)

	body, _ := json.Marshal(bridgeRequest{AuthToken: created.AuthToken, RedirectTo: "https://app.example.com/m/callback"})
	resp := api.do(t, "POST", "/v1/auth/bridge", "", bytes.NewReader(body), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bridge status = %d", resp.StatusCode)
	}
	link := decode[map[string]string](t, resp)["redirectToUrl"]
	if !strings.HasPrefix(link, api.srv.URL+authbridge.VerifyPath) {
		t.Fatalf("redirectToUrl = %s", link)
	}

	// Second exchange of the same auth token is rejected.
	if resp := api.do(t, "POST", "/v1/auth/bridge", "", bytes.NewReader(body), nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("second bridge status = %d", resp.StatusCode)
	}

	resp = api.do(t, "GET", strings.TrimPrefix(link, api.srv.URL), "", nil, nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	frag, _ := url.ParseQuery(loc.EscapedFragment())
	if loc.Host != "app.example.com" || frag.Get("access_token") == "" || loc.RawQuery != "" {
		t.Errorf("location = %s", loc)
	}
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", cookie)
	}

	// Refresh via the provider cookie.
	req, _ := http.NewRequest("POST", api.srv.URL+"/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	rresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer rresp.Body.Close()
	if rresp.StatusCode != http.StatusOK {
		t.Errorf("refresh status = %d", rresp.StatusCode)
	}

	// Replayed link → error fragment on the same callback.
	resp = api.do(t, "GET", strings.TrimPrefix(link, api.srv.URL), "", nil, nil)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	frag, _ = url.ParseQuery(loc.EscapedFragment())
	if loc.Host != "app.example.com" {
		t.Errorf("replay location = %s", loc)
	}
	if frag.Get("error") != "access_denied" || frag.Get("error_code") != "otp_expired" {
		t.Errorf("replay fragment = %v", frag)
	}
}

func TestBridge_BadRequests(t *testing.T) {
	api := newTestAPI(t)
	pair := api.signIn(t, "desktop-user")
	created := api.createSession(t, pair.AccessToken)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"missing token", `{}`, http.StatusBadRequest},
		{"unknown token", `{"authToken":"nope"}`, http.StatusUnauthorized},
		{"foreign redirect", `{"authToken":"` + created.AuthToken + `","redirectTo":"https://evil.example.net/"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.do(t, "POST", "/v1/auth/bridge", "", strings.NewReader(tc.body), nil)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestStorage_PutGet(t *testing.T) {
	api := newTestAPI(t)
	pair := api.signIn(t, "u1")
	created := api.createSession(t, pair.AccessToken)
	path := objstore.StoragePath + "u1/" + created.ScanSessionID + "/scanned_image_1.jpg"

	img := []byte("\xff\xd8fake-jpeg")
	resp := api.do(t, "PUT", path, pair.AccessToken, bytes.NewReader(img), map[string]string{"Content-Type": "image/jpeg"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	put := decode[putObjectResponse](t, resp)
	if put.Size != int64(len(img)) || put.URL != api.srv.URL+path {
		t.Errorf("put = %+v", put)
	}

	resp = api.do(t, "GET", path, pair.AccessToken, nil, nil)
	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, img) {
		t.Errorf("get status = %d, body = %q", resp.StatusCode, got)
	}

	other := api.signIn(t, "u2")
	if resp := api.do(t, "GET", path, other.AccessToken, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user get status = %d", resp.StatusCode)
	}
	if resp := api.do(t, "PUT", objstore.StoragePath+"u1/not-a-session/a.jpg", pair.AccessToken, bytes.NewReader(img), nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session put status = %d", resp.StatusCode)
	}
	big := bytes.Repeat([]byte("x"), 2<<20)
	if resp := api.do(t, "PUT", path, pair.AccessToken, bytes.NewReader(big), nil); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized put status = %d", resp.StatusCode)
	}

	// Deleting the session removes its images.
	if resp := api.do(t, "DELETE", "/v1/scan-sessions/"+created.ScanSessionID, pair.AccessToken, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := api.do(t, "GET", path, pair.AccessToken, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, "GET", "/health", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	api.signIn(t, "u1")
	resp = api.do(t, "GET", "/metrics", "", nil, nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "goscan_http_requests_total") {
		t.Error("metrics missing goscan_http_requests_total")
	}
}

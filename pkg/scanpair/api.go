package scanpair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

const storagePath = "/v1/storage/scan-images/"

// DefaultMaxImageSize matches the gateway's default storage.max_bytes.
const DefaultMaxImageSize int64 = 20 << 20

// ErrImageTooLarge is returned by Download when the body exceeds the
// client's size limit.
var ErrImageTooLarge = errors.New("image exceeds size limit")

// TokenPair is the gateway's access/refresh credential pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ScanSession is a freshly issued pairing session as the desktop sees it.
type ScanSession struct {
	ID           string `json:"scanSessionId"`
	AuthToken    string `json:"authToken"`
	BootstrapURL string `json:"bootstrapUrl"`
}

// StoredObject describes an uploaded scan image.
type StoredObject struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// APIClient talks to the gateway's HTTP endpoints.
type APIClient struct {
	baseURL     string
	http        *http.Client
	token       string
	maxDownload int64
}

// NewAPIClient creates a client for the gateway at baseURL. A nil
// httpClient gets a 30 second default.
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, maxDownload: DefaultMaxImageSize}
}

// WithMaxDownload returns a copy whose Download rejects bodies over n bytes.
// Non-positive n keeps the current limit.
func (c *APIClient) WithMaxDownload(n int64) *APIClient {
	cp := *c
	if n > 0 {
		cp.maxDownload = n
	}
	return &cp
}

// WithToken returns a copy that authenticates with accessToken.
func (c *APIClient) WithToken(accessToken string) *APIClient {
	cp := *c
	cp.token = accessToken
	return &cp
}

func (c *APIClient) BaseURL() string { return c.baseURL }

// SignIn obtains a token pair for userID using the gateway's shared token.
func (c *APIClient) SignIn(ctx context.Context, gatewayToken, userID string) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/token", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	req.Header.Set("X-GoScan-User-Id", userID)
	var pair TokenPair
	if err := c.do(req, &pair); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return &pair, nil
}

// CreateScanSession issues a new scan session owned by the caller.
func (c *APIClient) CreateScanSession(ctx context.Context) (*ScanSession, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/scan-sessions", nil)
	if err != nil {
		return nil, err
	}
	var sess ScanSession
	if err := c.do(req, &sess); err != nil {
		return nil, fmt.Errorf("create scan session: %w", err)
	}
	return &sess, nil
}

// QRCode fetches the bootstrap QR image as PNG.
func (c *APIClient) QRCode(ctx context.Context, sess *ScanSession, size int) ([]byte, error) {
	q := url.Values{"auth_token": {sess.AuthToken}}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/scan-sessions/"+url.PathEscape(sess.ID)+"/qr.png?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.fetch(req)
}

// DeleteScanSession removes the session and its stored images.
func (c *APIClient) DeleteScanSession(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/scan-sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ExchangeAuthToken trades a bootstrap auth token for a one-time sign-in link.
func (c *APIClient) ExchangeAuthToken(ctx context.Context, authToken, redirectTo string) (string, error) {
	body, _ := json.Marshal(map[string]string{"authToken": authToken, "redirectTo": redirectTo})
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth/bridge", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		RedirectToURL string `json:"redirectToUrl"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.RedirectToURL == "" {
		return "", fmt.Errorf("auth bridge returned no link")
	}
	return out.RedirectToURL, nil
}

// PutObject uploads data under key ({userId}/{sessionId}/{fileName}).
func (c *APIClient) PutObject(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error) {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	req, err := c.newRequest(ctx, http.MethodPut, storagePath+strings.Join(parts, "/"), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)
	var obj StoredObject
	if err := c.do(req, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Download fetches an image URL from a relay message. Gateway-hosted URLs
// carry the access token; presigned URLs are fetched as is.
func (c *APIClient) Download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" && strings.HasPrefix(imageURL, c.baseURL+"/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.fetch(req)
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *APIClient) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apiError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxDownload {
		return nil, fmt.Errorf("%w (%d bytes)", ErrImageTooLarge, c.maxDownload)
	}
	return data, nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

// objectKey mirrors the storage layout {userId}/{sessionId}/{fileName}.
func objectKey(userID, sessionID, fileName string) string {
	return protocol.ObjectKey(userID, sessionID, fileName)
}

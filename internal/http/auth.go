package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store"
)

// SessionCookie is the identity provider's own session artifact, set when a
// sign-in link is followed.
const SessionCookie = "goscan_session"

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// Returns true if expected is empty (no auth configured) or if tokens match.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// extractUserID reads the external user id header; invalid ids read as
// absent.
func extractUserID(r *http.Request) string {
	id := r.Header.Get("X-GoScan-User-Id")
	if id == "" {
		return ""
	}
	if err := store.ValidateUserID(id); err != nil {
		slog.Warn("security.user_id_invalid", "length", len(id), "error", err)
		return ""
	}
	return id
}

// requireAccess validates a bearer access token and stores its user in the
// request context.
func requireAccess(tokens *authbridge.TokenIssuer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := tokens.Validate(extractBearerToken(r), authbridge.TypeAccess)
		if err != nil {
			slog.Warn("security.token_invalid", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(store.WithUserID(r.Context(), claims.UserID)))
	}
}

// AuthHandler serves desktop sign-in, the auth bridge, and the identity
// provider's verify redirect.
type AuthHandler struct {
	bridge       *authbridge.Bridge
	gatewayToken string
	limiter      *gateway.RateLimiter // per-IP on the bridge; may be nil
	secure       bool                 // Secure flag on the session cookie
}

func NewAuthHandler(bridge *authbridge.Bridge, gatewayToken string, limiter *gateway.RateLimiter, secure bool) *AuthHandler {
	return &AuthHandler{bridge: bridge, gatewayToken: gatewayToken, limiter: limiter, secure: secure}
}

// RegisterRoutes registers the auth routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/token", h.handleToken)
	mux.HandleFunc("POST /v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /v1/auth/bridge", h.handleBridge)
	mux.HandleFunc("GET "+authbridge.VerifyPath, h.handleVerify)
}

// handleToken signs a desktop user in with the gateway token.
func (h *AuthHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	if !tokenMatch(extractBearerToken(r), h.gatewayToken) {
		slog.Warn("security.gateway_token_mismatch", "remote", clientIP(r))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID := extractUserID(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-GoScan-User-Id header is required")
		return
	}

	pair, err := h.bridge.Tokens().Issue(userID)
	if err != nil {
		slog.Error("issue tokens failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.RefreshToken == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			body.RefreshToken = c.Value
		}
	}

	pair, err := h.bridge.Tokens().Refresh(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type bridgeRequest struct {
	AuthToken  string `json:"authToken"`
	RedirectTo string `json:"redirectTo"`
}

func (h *AuthHandler) handleBridge(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow("bridge:"+clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req bridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AuthToken == "" {
		writeError(w, http.StatusBadRequest, "authToken is required")
		return
	}

	link, err := h.bridge.Exchange(r.Context(), req.AuthToken, req.RedirectTo)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"redirectToUrl": link})
	case errors.Is(err, authbridge.ErrRedirectNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scansession.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "invalid auth token")
	case errors.Is(err, scansession.ErrTokenConsumed):
		writeError(w, http.StatusConflict, "auth token already used")
	default:
		slog.Error("auth bridge exchange failed", "error", err)
		writeError(w, http.StatusInternalServerError, "auth bridge unavailable")
	}
}

// handleVerify always redirects; outcomes travel in the URL fragment.
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := h.bridge.Verify(r.URL.Query().Get("token"), r.URL.Query().Get("redirect_to"))
	if err != nil {
		slog.Info("sign-in link rejected", "error", err)
	}
	if v.Tokens != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    v.Tokens.RefreshToken,
			Path:     "/v1/auth",
			HttpOnly: true,
			Secure:   h.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, v.Location, http.StatusSeeOther)
}

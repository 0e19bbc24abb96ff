package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store"
)

const (
	defaultQRSize = 320
	maxQRSize     = 1024
)

// ScanSessionsHandler issues scan sessions to signed-in desktop users.
type ScanSessionsHandler struct {
	sessions *scansession.Service
	images   objstore.Store
	tokens   *authbridge.TokenIssuer
}

func NewScanSessionsHandler(sessions *scansession.Service, images objstore.Store, tokens *authbridge.TokenIssuer) *ScanSessionsHandler {
	return &ScanSessionsHandler{sessions: sessions, images: images, tokens: tokens}
}

// RegisterRoutes registers the scan-session routes on the given mux.
func (h *ScanSessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/scan-sessions", requireAccess(h.tokens, h.handleCreate))
	mux.HandleFunc("GET /v1/scan-sessions/{id}", requireAccess(h.tokens, h.handleGet))
	mux.HandleFunc("GET /v1/scan-sessions/{id}/qr.png", requireAccess(h.tokens, h.handleQR))
	mux.HandleFunc("DELETE /v1/scan-sessions/{id}", requireAccess(h.tokens, h.handleDelete))
}

type createScanSessionResponse struct {
	ScanSessionID string `json:"scanSessionId"`
	AuthToken     string `json:"authToken"`
	BootstrapURL  string `json:"bootstrapUrl"`
}

func (h *ScanSessionsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID := store.UserIDFromContext(r.Context())
	sess, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		slog.Error("create scan session failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create scan session")
		return
	}
	writeJSON(w, http.StatusCreated, createScanSessionResponse{
		ScanSessionID: sess.ID,
		AuthToken:     sess.AuthToken,
		BootstrapURL:  h.sessions.BootstrapURL(sess.ID, sess.AuthToken),
	})
}

func (h *ScanSessionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Authorize(r.Context(), r.PathValue("id"), store.UserIDFromContext(r.Context()))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleQR renders the bootstrap URL as a PNG. The desktop passes the auth
// token it received at creation; the QR is unavailable once redeemed.
func (h *ScanSessionsHandler) handleQR(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bootstrap, err := h.sessions.BootstrapURLFor(r.Context(), r.PathValue("id"), store.UserIDFromContext(r.Context()), q.Get("auth_token"))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	size := defaultQRSize
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 64 || n > maxQRSize {
			writeError(w, http.StatusBadRequest, "size must be between 64 and 1024")
			return
		}
		size = n
	}

	png, err := qrcode.Encode(bootstrap, qrcode.Medium, size)
	if err != nil {
		slog.Error("qr encode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *ScanSessionsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	userID := store.UserIDFromContext(ctx)
	if err := h.sessions.Delete(ctx, id, userID); err != nil {
		writeSessionError(w, err)
		return
	}
	if h.images != nil {
		if err := h.images.DeletePrefix(ctx, objstore.SessionPrefix(userID, id)); err != nil {
			slog.Warn("delete scan images failed", "session", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scansession.ErrNotFound):
		writeError(w, http.StatusNotFound, "scan session not found")
	case errors.Is(err, scansession.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, scansession.ErrTokenConsumed):
		writeError(w, http.StatusGone, "scan session already redeemed")
	default:
		slog.Error("scan session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

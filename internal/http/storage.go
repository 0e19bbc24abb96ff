package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store"
	"github.com/nextlevelbuilder/goscan/internal/tracing"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// StorageHandler is the temporary scan-image bucket endpoint. Objects are
// readable and writable only by the user named in the key, and only for a
// scan session that user owns.
type StorageHandler struct {
	images   objstore.Store
	sessions *scansession.Service
	tokens   *authbridge.TokenIssuer
	maxBytes int64
}

func NewStorageHandler(images objstore.Store, sessions *scansession.Service, tokens *authbridge.TokenIssuer, maxBytes int64) *StorageHandler {
	return &StorageHandler{images: images, sessions: sessions, tokens: tokens, maxBytes: maxBytes}
}

// RegisterRoutes registers the storage routes on the given mux.
func (h *StorageHandler) RegisterRoutes(mux *http.ServeMux) {
	const route = objstore.StoragePath + "{userId}/{sessionId}/{fileName}"
	mux.HandleFunc("PUT "+route, requireAccess(h.tokens, h.handlePut))
	mux.HandleFunc("GET "+route, requireAccess(h.tokens, h.handleGet))
}

type putObjectResponse struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// authorizeKey resolves and checks the {userId}/{sessionId}/{fileName} path.
func (h *StorageHandler) authorizeKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, sessionID, fileName := r.PathValue("userId"), r.PathValue("sessionId"), r.PathValue("fileName")
	key := protocol.ObjectKey(userID, sessionID, fileName)
	if objstore.ValidateKey(key) != nil {
		writeError(w, http.StatusBadRequest, "invalid object key")
		return "", false
	}
	if caller := store.UserIDFromContext(r.Context()); caller != userID {
		slog.Warn("security.storage_forbidden", "caller", caller, "key", key)
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	if _, err := h.sessions.Authorize(r.Context(), sessionID, userID); err != nil {
		writeSessionError(w, err)
		return "", false
	}
	return key, true
}

func (h *StorageHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorizeKey(w, r)
	if !ok {
		return
	}
	ctx, span := tracing.Start(r.Context(), tracing.ScopeHTTP, "storage.put", tracing.Session(r.PathValue("sessionId")))
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	if r.ContentLength > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	obj, err := h.images.Put(ctx, key, body, r.ContentLength, contentType)
	if err != nil {
		spanErr = err
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		slog.Error("store scan image failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	url, err := h.images.URL(ctx, key)
	if err != nil {
		spanErr = err
		slog.Error("resolve scan image url failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve image url")
		return
	}

	slog.Info("scan image stored", "key", key, "size", obj.Size)
	writeJSON(w, http.StatusCreated, putObjectResponse{Key: key, URL: url, Size: obj.Size})
}

func (h *StorageHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorizeKey(w, r)
	if !ok {
		return
	}
	rc, obj, err := h.images.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		slog.Error("read scan image failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	defer rc.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, no-store")
	io.Copy(w, rc)
}

// Package http is goscan's REST surface: sign-in and the auth bridge, scan
// session issuance, temporary image storage, and the mounts for the
// WebSocket gateway and metrics.
package http

import (
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
)

// Deps are the services the HTTP API is built from.
type Deps struct {
	Gateway      *gateway.Server
	Sessions     *scansession.Service
	Bridge       *authbridge.Bridge
	Images       objstore.Store
	GatewayToken string
	MaxImageSize int64
	SecureCookie bool
	Version      string
}

// NewRouter assembles every route on one ServeMux.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()
	tokens := d.Bridge.Tokens()

	NewAuthHandler(d.Bridge, d.GatewayToken, d.Gateway.RateLimiter(), d.SecureCookie).RegisterRoutes(mux)
	NewScanSessionsHandler(d.Sessions, d.Images, tokens).RegisterRoutes(mux)
	NewStorageHandler(d.Images, d.Sessions, tokens, d.MaxImageSize).RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": d.Version,
			"clients": d.Gateway.ClientCount(),
		})
	})
	mux.Handle("GET /metrics", d.Gateway.Metrics().Handler())
	mux.HandleFunc("GET /ws", d.Gateway.HandleWebSocket)

	return withMetrics(d.Gateway.Metrics(), mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func withMetrics(m *gateway.Metrics, next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)
		// The upgrade needs the raw writer's Hijacker.
		if pattern == "GET /ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if pattern == "" {
			pattern = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rec.status/100)+"xx").Inc()
	})
}

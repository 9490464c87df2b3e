package app

import (
	"encoding/json"
	"net/http"
	"time"

	"relay/cmd/internal/presence"
	"relay/cmd/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type routeDeps struct {
	log      Logger
	cfg      Config
	store    *StoreHandle
	presence *presence.Redis
	registry *realtime.Registry
	ws       http.Handler
	metrics  http.Handler
}

// statusResponse is the body of GET /.
type statusResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Store          string `json:"store"`
	ConnectedUsers int    `json:"connected_users"`
	SignedTokens   bool   `json:"signed_tokens"`
}

func newRouter(d routeDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, d.log) })
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)

	// The websocket route enforces its own origin policy.
	r.Method(http.MethodGet, "/ws", d.ws)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return WithCORS(next, d.cfg, d.log) })

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, statusResponse{
				Status:         "ok",
				Service:        "relay",
				Store:          d.store.Backend,
				ConnectedUsers: d.registry.Len(),
				SignedTokens:   d.cfg.JWTSecret != "",
			})
		})

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})

		r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
			if d.cfg.ReadinessRequireDB && !d.store.Durable() {
				http.Error(w, "durable store not configured", http.StatusServiceUnavailable)
				return
			}

			if err := d.store.Ping(req.Context(), 2*time.Second); err != nil {
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.store.not_ready", "backend", d.store.Backend, "err", err)
				return
			}

			// Presence is best-effort: report but do not fail readiness.
			if d.presence != nil {
				if err := d.presence.Ping(req.Context()); err != nil {
					d.log.Warn("readyz.presence.degraded", "err", err)
				}
			}

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
		})

		r.Method(http.MethodGet, "/metrics", d.metrics)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

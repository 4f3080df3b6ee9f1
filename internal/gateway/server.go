package gateway

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/security"
	"github.com/flemzord/convoq/internal/tool"
)

// Deps are the components the HTTP surface serves.
type Deps struct {
	Manager  *conversation.Manager
	Registry *tool.Registry
	Metrics  *metrics.Metrics
	Limiter  *security.RateLimiter
	Auth     AuthConfig
	MaxBody  int64
	Logger   *slog.Logger
}

type server struct {
	Deps
}

// NewHandler builds the chi router with every route wired.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBody <= 0 {
		deps.MaxBody = 1 << 20
	}
	s := &server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.Auth, s.Logger))

		r.Route("/api", func(r chi.Router) {
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", s.handleCreate)
				r.Get("/", s.handleList)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGet)
					r.Delete("/", s.handleDelete)
					r.Post("/messages", s.handleMessage)
					r.Post("/refresh", s.handleRefresh)
				})
			})
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/tools", s.handleTools)
		})
		r.Get("/ws/conversations/{id}", s.handleChat)
	})

	return r
}

// clientKey identifies a caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

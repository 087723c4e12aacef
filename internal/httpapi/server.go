// Package httpapi is the HTTP API Layer (spec.md §4.7): routing,
// validation, per-principal rate limiting, and the 2-second status
// cache, in front of the task store, executor, and review controller.
// Grounded in this codebase's chi-based handler package shape (see
// other_examples' query handler) and src/api/main.py's router wiring,
// using go-chi/chi/v5 and go-chi/cors already pulled in by the ai
// module's dependency surface.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/review"
	"github.com/Tangerg/research-core/internal/taskstore"
)

// Server holds the dependencies every handler needs.
type Server struct {
	store       *taskstore.Store
	executor    *executor.Executor
	review      *review.Controller
	rateLimiter *rateLimiter
	statusCache *statusCache
}

// New wires the router: middleware chain, per-route handlers, and the
// shared rate limiter/status cache. rateLimitPerMinute is the per-
// principal token bucket size (spec.md §4.7 default 5).
func New(store *taskstore.Store, exec *executor.Executor, reviewCtrl *review.Controller, rateLimitPerMinute int) http.Handler {
	s := &Server{
		store:       store,
		executor:    exec,
		review:      reviewCtrl,
		rateLimiter: newRateLimiter(rateLimitPerMinute),
		statusCache: newStatusCache(2 * time.Second),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/research", s.handleSubmit)
		r.Get("/status/{task_id}", s.handleStatus)
		r.Get("/report/{task_id}", s.handleReport)
		r.With(s.rateLimit).Post("/review/{task_id}", s.handleReview)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// requestLogger emits one structured line per request, grounded in the
// query handler's emitQueryLog approach but generalized across routes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http_request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// rateLimit enforces the per-principal token bucket. Principal is the
// submitted body's user_id (spec.md §4.7: "principal = user_id if given
// else forwarded client ip"), peeked out of the body without consuming
// it so the route handler still sees the full request.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(principalFor(r)) {
			writeError(w, apperr.RateLimited("rate limit exceeded, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principalFor reads user_id out of the JSON body if present, restoring
// the body for the downstream handler, and falls back to the client IP
// (already resolved onto RemoteAddr by middleware.RealIP) otherwise.
func principalFor(r *http.Request) string {
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			var payload struct {
				UserID string `json:"user_id"`
			}
			if json.Unmarshal(body, &payload) == nil && payload.UserID != "" {
				return "user:" + payload.UserID
			}
		}
	}

	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return "ip:" + host
}

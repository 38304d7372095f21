// Package api serves the contact directory over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
	"github.com/sells-group/contactbook/internal/tasks"
)

// ContactStore is the subset of the store the API reads and writes.
type ContactStore interface {
	Ping(ctx context.Context) error
	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	GetContact(ctx context.Context, id int64) (*model.Contact, error)
	FindContact(ctx context.Context, email, remoteID string) (*model.Contact, error)
	ListContacts(ctx context.Context, filter store.ContactFilter) ([]model.Contact, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.ReconcileRun, error)
}

// Searcher runs synchronous full-text searches.
type Searcher interface {
	Search(ctx context.Context, text string) ([]model.Contact, error)
}

// ServerOption configures the router.
type ServerOption func(*serverConfig)

type serverConfig struct {
	corsOrigins []string
	middlewares []func(http.Handler) http.Handler
}

// WithCORSOrigins sets the allowed CORS origins. Defaults to "*".
func WithCORSOrigins(origins ...string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.corsOrigins = origins
	}
}

// WithMiddlewares appends middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewRouter builds the HTTP handler for the API.
func NewRouter(st ContactStore, searcher Searcher, dispatcher tasks.Dispatcher, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{corsOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{store: st, searcher: searcher, dispatcher: dispatcher}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.searchSync)
		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.listContacts)
			r.Post("/", h.createContact)
			r.Get("/{id}", h.getContact)
		})
		r.Get("/runs", h.listRuns)
	})

	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/search", h.submitSearch)
		r.Get("/search/status/{task_id}", h.taskStatus)
		r.Post("/reconcile", h.submitReconcile)
	})

	return r
}

// LoggingMiddleware logs each request through zap.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

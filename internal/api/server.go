package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ItemService is the management surface the handlers call into.
type ItemService interface {
	Add(ctx context.Context, rawURL string) (tracker.Item, error)
	List(ctx context.Context) ([]tracker.Item, error)
	Get(ctx context.Context, id string) (tracker.Item, error)
	Delete(ctx context.Context, id string) error
	SetAlarm(ctx context.Context, id string, threshold float64) (tracker.Item, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Options configures middleware.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the item service.
type Server struct {
	router  chi.Router
	service ItemService
	ready   ReadyFunc
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(service ItemService, ready ReadyFunc, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		service: service,
		ready:   ready,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", apiKeyHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}).Handler)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/items", func(r chi.Router) {
			r.Post("/", s.addItem)
			r.Get("/", s.listItems)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getItem)
				r.Delete("/", s.deleteItem)
				r.Put("/alarm", s.setAlarm)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

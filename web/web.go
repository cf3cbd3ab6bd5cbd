// Package web exposes location validation and route computation over HTTP.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
)

const (
	defaultAddr            = ":8080"
	defaultRequestTimeout  = 25 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Resolver resolves a single raw location reference.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (models.Resolved, error)
}

// RouteComputer computes the shortest route between two raw references.
type RouteComputer interface {
	Compute(ctx context.Context, origin, destination string) (models.RouteResult, error)
}

// RouteWarmer schedules a background route computation and returns its task id.
type RouteWarmer interface {
	EnqueueRouteWarm(ctx context.Context, req models.WarmRouteRequest) (string, error)
}

type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

type Config struct {
	Addr string
	// RequestTimeout bounds the work done for one API request.
	RequestTimeout time.Duration
}

type Option func(*Server)

// WithRouteWarmer enables the warm-up endpoint.
func WithRouteWarmer(w RouteWarmer) Option {
	return func(s *Server) {
		s.warmer = w
	}
}

// WithHealthCheck adds a named dependency to the health report.
func WithHealthCheck(name string, c HealthChecker) Option {
	return func(s *Server) {
		s.checks[name] = c
	}
}

type Server struct {
	cfg      Config
	resolver Resolver
	routes   RouteComputer
	warmer   RouteWarmer
	checks   map[string]HealthChecker
	validate *validator.Validate
	logger   *zap.Logger
	router   *mux.Router
}

func New(cfg Config, resolver Resolver, routes RouteComputer, logger *zap.Logger, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		routes:   routes,
		checks:   map[string]HealthChecker{},
		validate: newValidator(),
		logger:   logger.Named("web"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routesTable()

	return s
}

func (s *Server) routesTable() *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestID, Recover(s.logger), RequestLogger(s.logger), SecurityHeaders)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(Timeout(s.cfg.RequestTimeout))
	api.HandleFunc("/references/validate", s.validateReference).Methods(http.MethodPost)
	api.HandleFunc("/routes", s.computeRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/warm", s.warmRoute).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		renderJSON(w, http.StatusNotFound, models.APIError{Code: http.StatusNotFound, Message: "not found"})
	})

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		renderJSON(w, http.StatusMethodNotAllowed, models.APIError{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})

	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("listening", zap.String("addr", s.cfg.Addr))

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

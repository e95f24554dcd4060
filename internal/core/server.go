// Package core provides the API chassis for the TrustedBy billing service.
// It creates a chi router and enforces cross-cutting concerns -- security,
// logging, observability, and error handling -- before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easyash/trustedby/internal/config"
	"github.com/easyash/trustedby/internal/types"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records request latency and count for one API call.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Authenticator resolves a presented API token to an Actor. Implemented by
// auth.TokenService; injected as an interface for testability.
type Authenticator interface {
	Verify(ctx context.Context, token string) (types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting. Production
// uses Redis fixed windows; tests use in-memory fakes.
type RateLimitStore interface {
	// IncrementAndCheck atomically counts the request against the key's
	// window and reports whether the limit is exceeded.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error)
}

// Server encapsulates all dependencies for the API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// V1RouteRegistrars is populated by the application entry point; the
	// indirection avoids import cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux

	// closers are resources released on Shutdown, in registration order.
	closers []func() error
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. The caller mounts routes via MountRoutes after
// registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterCloser adds a resource to release during Shutdown.
func (s *Server) RegisterCloser(close func() error) {
	s.closers = append(s.closers, close)
}

// Shutdown releases server-owned resources after the HTTP listener has
// drained.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, close := range s.closers {
		if err := close(); err != nil {
			s.Logger.Error("error during shutdown", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}

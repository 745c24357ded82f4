// Package server exposes the settlement engine to external orchestrators
// over HTTP/JSON. Scheduling lives outside; the engine enforces its own
// time and state preconditions no matter when or how often an entry point
// is called.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"PariLedger/internal/observability"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer registers all routes and builds the middleware chain.
func NewServer(cfg Config, handlers *Handlers, health *observability.HealthChecker, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()

	// Probes bypass auth.
	if health != nil {
		mux.HandleFunc("GET /healthz", health.LivenessHandler)
		mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	}

	mux.HandleFunc("POST /api/markets", handlers.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.ListMarkets)
	mux.HandleFunc("GET /api/markets/{addr}", handlers.GetMarket)
	mux.HandleFunc("GET /api/markets/{addr}/multipliers", handlers.GetMultipliers)
	mux.HandleFunc("POST /api/markets/{addr}/deposits", handlers.Deposit)
	mux.HandleFunc("POST /api/markets/{addr}/close", handlers.CloseBetting)
	mux.HandleFunc("POST /api/markets/{addr}/resolve", handlers.Resolve)
	mux.HandleFunc("POST /api/markets/{addr}/claims", handlers.Claim)
	mux.HandleFunc("POST /api/markets/{addr}/refunds", handlers.EmergencyRefund)
	mux.HandleFunc("POST /api/markets/{addr}/rake", handlers.WithdrawRake)
	mux.HandleFunc("GET /api/markets/{addr}/positions/{user}", handlers.GetPosition)
	mux.HandleFunc("GET /api/markets/{addr}/events", handlers.GetEvents)

	var h http.Handler = mux
	h = authMiddleware(cfg.APIKey)(h)
	h = loggingMiddleware(logger, metrics)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

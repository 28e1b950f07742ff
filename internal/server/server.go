// Package server exposes the market service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bettogether/internal/domain"
	"github.com/alanyoungcy/bettogether/internal/server/handler"
	"github.com/alanyoungcy/bettogether/internal/server/middleware"
	"github.com/alanyoungcy/bettogether/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Simulation and
// Archive are optional.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Positions  *handler.PositionHandler
	Simulation *handler.SimulationHandler
	Archive    *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first. limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/tokens", handlers.Markets.DeployOutcomeToken)
	mux.HandleFunc("POST /api/markets/{id}/state", handlers.Markets.IncrementState)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.DetermineWinner)

	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Positions.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/withdrawals", handlers.Positions.Withdraw)
	mux.HandleFunc("GET /api/markets/{id}/payouts/{user}", handlers.Positions.PreviewPayout)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/users/{user}/positions", handlers.Positions.UserHistory)

	if sim := handlers.Simulation; sim != nil {
		mux.HandleFunc("POST /api/sim/mint", sim.Mint)
		mux.HandleFunc("GET /api/sim/balances/{account}", sim.Balance)
		mux.HandleFunc("POST /api/sim/markets/{id}/approve", sim.Approve)
		mux.HandleFunc("POST /api/sim/markets/{id}/accrue", sim.Accrue)
		mux.HandleFunc("POST /api/sim/markets/{id}/answer", sim.Answer)
		mux.HandleFunc("POST /api/sim/reference", sim.RunReference)
	}
	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/run", handlers.Archive.Trigger)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Package server exposes the evaluation platform over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/server/handler"
	"github.com/polyprop/polyprop/internal/server/middleware"
	"github.com/polyprop/polyprop/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting entirely.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
	Trades   *handler.TradeHandler
	Jobs     *handler.JobsHandler
}

// Server is the HTTP + WebSocket API server for the evaluation platform.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Account endpoints.
	mux.HandleFunc("POST /api/accounts", handlers.Accounts.CreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", handlers.Accounts.GetAccount)
	mux.HandleFunc("GET /api/accounts/{id}/positions", handlers.Accounts.ListPositions)
	mux.HandleFunc("GET /api/accounts/{id}/positions/history", handlers.Accounts.ListPositionHistory)
	mux.HandleFunc("GET /api/accounts/{id}/equity", handlers.Accounts.GetEquity)
	mux.HandleFunc("GET /api/accounts/{id}/trades", handlers.Accounts.ListTrades)

	// Trade execution.
	mux.HandleFunc("POST /api/trades", handlers.Trades.ExecuteTrade)

	// Operational job triggers.
	mux.HandleFunc("POST /api/jobs/monitor", handlers.Jobs.TriggerMonitor)
	mux.HandleFunc("POST /api/jobs/settlement", handlers.Jobs.TriggerSettlement)
	mux.HandleFunc("POST /api/jobs/daily-reset", handlers.Jobs.TriggerDaily)
	mux.HandleFunc("POST /api/jobs/refresh", handlers.Jobs.TriggerRefresh)
	mux.HandleFunc("POST /api/jobs/archive", handlers.Jobs.TriggerArchive)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Innermost first: auth runs before the
	// handler, logging wraps auth, CORS wraps everything, and the rate
	// limiter gates the whole chain at the edge.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Apply per-IP rate limiting, if configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

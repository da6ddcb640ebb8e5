// Package server exposes the treasury over HTTP: workflow entry points,
// owner-only admin routes, read-only views, and a WebSocket feed of
// settlement events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phoenixfi/bondtreasury/internal/domain"
	"github.com/phoenixfi/bondtreasury/internal/server/handler"
	"github.com/phoenixfi/bondtreasury/internal/server/middleware"
	"github.com/phoenixfi/bondtreasury/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit bounds workflow requests per client IP per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration

	// Workflows registers the deposit/redeem intake routes.
	Workflows bool
	// Views registers the read-only bond and holder routes, the admin
	// surface, and the WebSocket feed.
	Views bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Bonds    *handler.BondHandler
	Deposits *handler.DepositHandler
}

// Server is the headless HTTP + WebSocket API server for the bond treasury.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Workflow entry points. These return 202 with a workflow id; the
	// settlement outcome arrives on the bus and the WebSocket feed.
	if cfg.Workflows {
		mux.Handle("POST /api/deposits",
			workflowLimit(cfg, limiter, http.HandlerFunc(handlers.Deposits.NotifyDeposit)))
		mux.Handle("POST /api/bonds/{asset}/redeem",
			workflowLimit(cfg, limiter, http.HandlerFunc(handlers.Deposits.Redeem)))
	}

	if cfg.Views {
		// Bond views.
		mux.HandleFunc("GET /api/bonds", handlers.Bonds.ListBonds)
		mux.HandleFunc("GET /api/bonds/{asset}", handlers.Bonds.GetBond)
		mux.HandleFunc("GET /api/bonds/{asset}/price", handlers.Bonds.GetPrice)
		mux.HandleFunc("GET /api/bonds/{asset}/holders/{account}", handlers.Deposits.GetHolder)
		mux.HandleFunc("GET /api/bonds/{asset}/holders/{account}/pending", handlers.Deposits.GetPending)

		// Owner-only admin routes. The registry enforces the owner check.
		mux.HandleFunc("POST /api/bonds", handlers.Bonds.RegisterBond)
		mux.HandleFunc("PUT /api/bonds/{asset}/vesting", handlers.Bonds.SetVesting)
		mux.HandleFunc("PUT /api/bonds/{asset}/adjustment", handlers.Bonds.SetAdjustment)

		// WebSocket endpoint.
		if wsHub != nil {
			mux.HandleFunc("GET /ws", wsHub.HandleWS)
		}
	}

	// Build the middleware chain. The health route bypasses auth so probes
	// work without credentials.
	authed := middleware.Auth(cfg.APIKey)(mux)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

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

// workflowLimit applies per-IP rate limiting to the workflow entry points.
func workflowLimit(cfg Config, limiter domain.RateLimiter, next http.Handler) http.Handler {
	if limiter == nil || cfg.RateLimit <= 0 {
		return next
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Second
	}
	return middleware.RateLimit(limiter, cfg.RateLimit, window)(next)
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

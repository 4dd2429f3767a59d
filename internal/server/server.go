// Package server exposes the auction over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/server/handler"
	"github.com/alanyoungcy/spotlight/internal/server/middleware"
	"github.com/alanyoungcy/spotlight/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminKeyHash is a bcrypt hash; empty disables admin routes.
	AdminKeyHash string
	// RequestsPerMinute per client IP; zero disables the limit.
	RequestsPerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Bids      *handler.BidHandler
	Pools     *handler.PoolHandler
	Lifecycle *handler.LifecycleHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()
	admin := middleware.AdminAuth(cfg.AdminKeyHash)
	adminFunc := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, admin(fn))
	}

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Bids.
	mux.HandleFunc("POST /api/bids", handlers.Bids.PlaceBid)
	mux.HandleFunc("GET /api/bids", handlers.Bids.ListBids)

	// Pools, slots and balances.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/bids", handlers.Pools.PoolBids)
	mux.HandleFunc("GET /api/targets/{id}", handlers.Pools.GetTarget)
	mux.HandleFunc("GET /api/targets/{id}/pool", handlers.Pools.TargetPool)
	mux.HandleFunc("GET /api/slots", handlers.Pools.ListSlots)
	mux.HandleFunc("GET /api/balances/{address}", handlers.Pools.Balance)

	// Lifecycle trigger for external schedulers.
	adminFunc("POST /api/lifecycle/tick", handlers.Lifecycle.Tick)

	// Operator endpoints.
	adminFunc("POST /api/admin/deposits", handlers.Admin.Deposit)
	adminFunc("PUT /api/admin/targets/{id}", handlers.Admin.PutTarget)
	adminFunc("POST /api/admin/bids/{id}/mark-refund", handlers.Admin.MarkForRefund)
	adminFunc("POST /api/admin/refunds/{address}", handlers.Admin.RefundAddress)
	adminFunc("GET /api/admin/pools/{id}/reconcile", handlers.Admin.Reconcile)
	adminFunc("POST /api/admin/pools/{id}/reconcile", handlers.Admin.Reconcile)
	adminFunc("POST /api/admin/pools/{id}/status", handlers.Admin.ForceStatus)
	adminFunc("GET /api/admin/orphans", handlers.Admin.ListOrphans)
	adminFunc("POST /api/admin/orphans/repair", handlers.Admin.RepairOrphans)
	adminFunc("POST /api/admin/archive", handlers.Admin.Archive)
	adminFunc("GET /api/admin/archives", handlers.Admin.ListArchives)
	adminFunc("GET /api/admin/audit", handlers.Admin.AuditLog)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if limiter != nil && cfg.RequestsPerMinute > 0 {
		h = middleware.RateLimit(limiter, cfg.RequestsPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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

// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/server/handler"
	"github.com/alanyoungcy/band4band/internal/server/middleware"
	"github.com/alanyoungcy/band4band/internal/server/ws"
)

// Config holds the HTTP server settings. An empty APIKey disables the key
// check; a nil Limiter or zero RateLimit disables rate limiting.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string
	RateLimit   int
	RateWindow  time.Duration
	Limiter     domain.RateLimiter
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Registry *handler.RegistryHandler
	Feeds    *handler.FeedHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
	Audit    *handler.AuditHandler
}

// Server is the node's HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
// wsHub may be nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/registry", h.Registry.Get)
	mux.HandleFunc("POST /api/registry", h.Registry.Init)
	mux.HandleFunc("POST /api/registry/publishers", h.Registry.AddPublisher)
	mux.HandleFunc("POST /api/registry/publishers/remove", h.Registry.RemovePublisher)
	mux.HandleFunc("POST /api/registry/freshness", h.Registry.SetFreshnessWindow)

	mux.HandleFunc("POST /api/feeds", h.Feeds.Init)
	mux.HandleFunc("POST /api/feeds/updates", h.Feeds.SubmitUpdate)
	mux.HandleFunc("GET /api/feeds/{league}/{game}", h.Feeds.Get)
	mux.HandleFunc("GET /api/feeds/{league}/{game}/payload", h.Feeds.Payload)
	mux.HandleFunc("POST /api/payloads", h.Feeds.Pin)

	mux.HandleFunc("POST /api/markets", h.Markets.Init)
	mux.HandleFunc("POST /api/markets/positions", h.Markets.PlacePosition)
	mux.HandleFunc("POST /api/markets/lock", h.Markets.Lock)
	mux.HandleFunc("POST /api/markets/resolve", h.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/void", h.Markets.Void)
	mux.HandleFunc("POST /api/markets/claim", h.Markets.Claim)
	mux.HandleFunc("GET /api/markets/{game}/{kind}", h.Markets.Get)
	mux.HandleFunc("GET /api/markets/{game}/{kind}/positions/{owner}", h.Markets.GetPosition)

	mux.HandleFunc("GET /api/accounts/{account}/balance", h.Accounts.Balance)
	mux.HandleFunc("POST /api/accounts/faucet", h.Accounts.Faucet)

	mux.HandleFunc("GET /api/audit", h.Audit.List)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health")(chain)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Package api provides the orchestrator's inbound HTTP surface (spec §6):
// execution submission/status/cancellation, webhook registration and
// stats, SSE/WebSocket streaming, and a liveness endpoint.
//
// Grounded on the teacher's pkg/api/server.go: the same Echo-v5
// constructor-plus-setupRoutes shape, security-header middleware, and
// optional-service wiring pattern — generalized from a single alert/
// session domain to this spec's execution/webhook domain and from gin (the
// teacher's stale bootstrap, never actually wired to its handlers) to
// echo/v5, the router every real teacher handler package already used.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/config"
	"github.com/agentorchestra/orchestra/pkg/database"
	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/models"
	"github.com/agentorchestra/orchestra/pkg/ratelimit"
	"github.com/agentorchestra/orchestra/pkg/realtime"
	"github.com/agentorchestra/orchestra/pkg/store"
)

// Server is the HTTP API server (component I, the submission gate, plus
// the H realtime fan-out endpoint and the health endpoint).
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg         *config.Config
	store       *store.Store
	dbClient    *database.Client
	engine      *engine.Engine
	bus         *events.Bus
	auth        *auth.Authenticator
	limiter     *ratelimit.Limiter
	authLimiter *ratelimit.Limiter
	connManager *realtime.ConnectionManager

	startedAt time.Time
}

// NewServer wires every collaborator and registers routes. All arguments
// are required — there is no optional-service Set* pattern here because,
// unlike the teacher's dashboard/trace endpoints, every route this server
// exposes is load-bearing for spec §6.
func NewServer(
	cfg *config.Config,
	s *store.Store,
	dbClient *database.Client,
	eng *engine.Engine,
	bus *events.Bus,
	authenticator *auth.Authenticator,
	limiter *ratelimit.Limiter,
	authLimiter *ratelimit.Limiter,
	connManager *realtime.ConnectionManager,
) *Server {
	e := echo.New()
	e.Validator = &requestValidator{v: validator.New()}

	srv := &Server{
		echo:        e,
		cfg:         cfg,
		store:       s,
		dbClient:    dbClient,
		engine:      eng,
		bus:         bus,
		auth:        authenticator,
		limiter:     limiter,
		authLimiter: authLimiter,
		connManager: connManager,
		startedAt:   time.Now().UTC(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)

	// Rate limiting runs first, keyed by address, so unauthenticated
	// floods are shed before any credential verification happens.
	api := s.echo.Group("/api",
		rateLimitMiddleware(s.limiter, s.cfg.RateLimitWindow),
		authMiddleware(s.auth, s.authLimiter, s.cfg.AuthRateLimitWindow),
		usageMiddleware(s.store),
	)

	executions := api.Group("/executions")
	executions.POST("", s.submitExecutionHandler, requireCapability(models.CapExecutionsWrite))
	executions.GET("/:id", s.getExecutionHandler, requireCapability(models.CapExecutionsRead))
	executions.GET("/:id/logs", s.listExecutionLogsHandler, requireCapability(models.CapExecutionsRead))
	executions.GET("/:id/stream", s.streamExecutionHandler, requireCapability(models.CapExecutionsRead))
	executions.DELETE("/:id", s.cancelExecutionHandler, requireCapability(models.CapExecutionsWrite))

	webhooks := api.Group("/webhooks")
	webhooks.POST("", s.registerWebhookHandler, requireCapability(models.CapWebhooksWrite))
	webhooks.PUT("/:id", s.updateWebhookHandler, requireCapability(models.CapWebhooksWrite))
	webhooks.DELETE("/:id", s.deleteWebhookHandler, requireCapability(models.CapWebhooksWrite))
	webhooks.GET("/:id/stats", s.webhookStatsHandler, requireCapability(models.CapWebhooksWrite))

	s.echo.GET("/ws", s.wsHandler)
}

// Start begins serving HTTP on addr, blocking until the context is
// cancelled or the server errors. Intended to run in its own goroutine;
// pair with Shutdown for graceful drain (spec §5's graceful-shutdown
// sequence).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

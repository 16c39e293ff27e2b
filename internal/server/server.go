package server

import (
	"time"

	"popdesk/internal/auth"
	"popdesk/internal/cache"
	"popdesk/internal/config"
	"popdesk/internal/fever"
	"popdesk/internal/handlers"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Deps carries the wired application components. Optional integrations
// (mail sending, order sync, backfill jobs) stay nil when unconfigured and
// their routes answer 503.
type Deps struct {
	DB          *sqlx.DB
	Store       handlers.TicketStore
	Actions     handlers.TicketActions
	Syncer      handlers.Syncer
	Sweeper     handlers.Sweeper
	Sender      handlers.Sender
	Orders      handlers.OrderSyncer
	OrderStore  fever.Store
	Launcher    handlers.JobLauncher
	AuthManager *auth.Manager
}

// Server represents the application server
type Server struct {
	echo   *echo.Echo
	config *config.Config
	logger zerolog.Logger
	cache  *cache.Cache
	deps   Deps
}

// New creates a new server instance
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) *Server {
	return &Server{
		config: cfg,
		logger: logger,
		cache:  cache.New(),
		deps:   deps,
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	// Middleware
	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	// Hide Echo banner
	s.echo.HideBanner = true

	// Setup routes
	s.setupRoutes()
}

// setupRoutes configures all the application routes
func (s *Server) setupRoutes() {
	// Health endpoints (keep at root level for monitoring)
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version))
	s.echo.GET("/healthz/db", handlers.DBHealthHandler(s.deps.DB))

	// API group with /api prefix
	api := s.echo.Group("/api")

	api.POST("/login", handlers.LoginHandler(s.deps.AuthManager))

	api.GET("/tickets", handlers.ListTicketsHandler(s.deps.Store, s.cache))
	api.GET("/tickets/:key", handlers.GetTicketHandler(s.deps.Store))
	api.GET("/sync/status", handlers.SyncStatusHandler(s.deps.Syncer, s.cache))

	// Staff actions and sync triggers require a bearer token.
	guarded := api.Group("", auth.Middleware(s.deps.AuthManager))

	guarded.POST("/tickets/:key/claim", handlers.ClaimHandler(s.deps.Actions, s.cache))
	guarded.POST("/tickets/:key/unclaim", handlers.UnclaimHandler(s.deps.Actions, s.cache))
	guarded.POST("/tickets/:key/mark-responded", handlers.MarkRespondedHandler(s.deps.Actions, s.cache))
	guarded.POST("/tickets/:key/reopen", handlers.ReopenHandler(s.deps.Actions, s.cache))
	guarded.POST("/tickets/:key/reply", handlers.ReplyHandler(s.deps.Store, s.deps.Actions, s.deps.Sender, s.config.MailboxAddress, s.cache))

	guarded.POST("/sync", handlers.SyncHandler(s.deps.Syncer, s.cache))
	guarded.POST("/sync/sweep", handlers.SweepHandler(s.deps.Sweeper))
	guarded.POST("/orders/sync", handlers.OrderSyncHandler(s.deps.Orders, s.deps.OrderStore))
	guarded.POST("/backfill", handlers.BackfillHandler(s.deps.Launcher, s.config.BackfillImage))
	guarded.GET("/backfill/:name", handlers.BackfillStatusHandler(s.deps.Launcher))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")
	return s.echo.Start(":" + s.config.Port)
}

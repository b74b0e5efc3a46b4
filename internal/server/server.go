// Package server wires the relay handlers into a Fiber application.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/jxtnz/portfolio-relay/internal/chat"
	"github.com/jxtnz/portfolio-relay/internal/health"
	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/projects"
	"github.com/jxtnz/portfolio-relay/internal/requestid"
)

// ServerConfig holds configuration for the relay HTTP server.
type ServerConfig struct {
	ListenAddr       string
	CORSOrigins      string
	AllowCredentials bool
}

// Server is the relay Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new relay server. metricsCollector may be nil.
func NewServer(
	cfg ServerConfig,
	reporter *health.Reporter,
	checker *health.Checker,
	aggregator *projects.Aggregator,
	relay *chat.Relay,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, metricsCollector, logger)
	s.setupRoutes(reporter, checker, aggregator, relay, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, metricsCollector *metrics.Metrics, logger zerolog.Logger) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Inherit(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// CORS middleware
	origins := cfg.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: cfg.AllowCredentials && origins != "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		ExposeHeaders:    requestid.Header,
	}))

	// Request metrics
	if metricsCollector != nil {
		s.app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()

			code := c.Response().StatusCode()
			route := c.Route().Path
			if err != nil {
				code = fiber.StatusInternalServerError
				var fe *fiber.Error
				if errors.As(err, &fe) {
					code = fe.Code
				}
				if code == fiber.StatusNotFound {
					route = "unmatched"
				}
			}
			metricsCollector.RecordRequest(route, code, time.Since(start).Seconds())
			return err
		})
	}

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Health, readiness and scrape traffic is not audited
		if path == "/api/health" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("relay request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(
	reporter *health.Reporter,
	checker *health.Checker,
	aggregator *projects.Aggregator,
	relay *chat.Relay,
	metricsCollector *metrics.Metrics,
) {
	// Readiness
	s.app.Get("/readyz", checker.ReadinessHandler)

	// Prometheus metrics
	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	api := s.app.Group("/api")
	api.Get("/health", reporter.Handler)
	api.Get("/projects", aggregator.Handler)
	api.Post("/chat", relay.Handler)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":4000"
	}

	s.logger.Info().Str("addr", addr).Msg("relay server listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("relay server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		message := err.Error()
		// Don't leak internal details
		if code >= fiber.StatusInternalServerError {
			message = "An internal error occurred"
		}

		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
	"github.com/bizyhq/bizy/pkg/telemetry"
)

// Server is the HTTP API server.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	orch      *orchestrator.Orchestrator
	store     orchestrator.Store
	registry  orchestrator.AdapterRegistry
	bus       events.Bus
	metrics   *telemetry.Metrics
	validator *rule.Validator
	logger    zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	// Listen is the bind address, e.g. ":8080".
	Listen string

	// Orchestrator executes rules. Required.
	Orchestrator *orchestrator.Orchestrator

	// Store persists rules and executions. Required.
	Store orchestrator.Store

	// Registry reports adapters. Required.
	Registry orchestrator.AdapterRegistry

	// Bus feeds the websocket event stream. Optional.
	Bus events.Bus

	// Metrics serves /metrics when set.
	Metrics *telemetry.Metrics
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:    router,
		orch:      cfg.Orchestrator,
		store:     cfg.Store,
		registry:  cfg.Registry,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		validator: rule.NewValidator(nil),
		logger:    logger.With().Str("component", "api").Logger(),
	}

	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.logger))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/v1")
	{
		v1.POST("/rules", s.handleCreateRule)
		v1.GET("/rules", s.handleListRules)
		v1.GET("/rules/:id", s.handleGetRule)
		v1.DELETE("/rules/:id", s.handleDeleteRule)
		v1.POST("/rules/:id/execute", s.handleExecuteRule)

		v1.POST("/execute", s.handleExecuteInline)

		v1.GET("/adapters", s.handleListAdapters)
		v1.GET("/adapters/:name/health", s.handleAdapterHealth)

		v1.GET("/executions", s.handleListExecutions)
		v1.GET("/executions/:id", s.handleGetExecution)

		if s.bus != nil {
			v1.GET("/events/ws", s.handleEventStream)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

// requestID attaches a request ID header and context value.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Package server provides the HTTP API for frictiond.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/action"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/orchestrator"
)

// Server exposes detection, actions, and flow state over HTTP.
type Server struct {
	echo    *echo.Echo
	orch    *orchestrator.Orchestrator
	actions *action.Service
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server.
func NewServer(orch *orchestrator.Orchestrator, actions *action.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if actions == nil {
		return nil, fmt.Errorf("action service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9600,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		orch:    orch,
		actions: actions,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/detect", s.handleDetect)
	v1.GET("/actions", s.handleActions)
	v1.POST("/actions/:id/execute", s.handleExecute)
	v1.GET("/flow", s.handleFlow)
	v1.GET("/flow/history", s.handleFlowHistory)
	v1.GET("/stats", s.handleStats)
	v1.GET("/monitor", s.handleMonitorStatus)
	v1.POST("/monitor/start", s.handleMonitorStart)
	v1.POST("/monitor/stop", s.handleMonitorStop)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DetectResponse is the response body for POST /api/v1/detect.
type DetectResponse struct {
	Flow  friction.FlowState `json:"flow"`
	Items action.List        `json:"actions"`
}

// ExecuteResponse is the response body for POST /api/v1/actions/:id/execute.
type ExecuteResponse struct {
	Result *friction.Result `json:"result"`
}

// MonitorResponse is the response body for the monitor endpoints.
type MonitorResponse struct {
	Running bool `json:"running"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleDetect runs one detection cycle synchronously and returns the
// resulting flow state plus the refreshed actionable items.
func (s *Server) handleDetect(c echo.Context) error {
	fs, err := s.orch.RunCycle(c.Request().Context())
	if err != nil {
		s.logger.Error("detection cycle failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "detection cycle failed")
	}

	return c.JSON(http.StatusOK, DetectResponse{
		Flow:  fs,
		Items: s.actions.Items(c.Request().Context()),
	})
}

func (s *Server) handleActions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.actions.Items(c.Request().Context()))
}

func (s *Server) handleExecute(c echo.Context) error {
	id := c.Param("id")

	result, err := s.actions.Execute(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, action.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no live friction point with that id")
		}
		if errors.Is(err, action.ErrInFlight) {
			return echo.NewHTTPError(http.StatusConflict, "elimination already in flight for that id")
		}
		s.logger.Error("action execution failed", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "action execution failed")
	}

	return c.JSON(http.StatusOK, ExecuteResponse{Result: result})
}

func (s *Server) handleFlow(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.FlowState())
}

func (s *Server) handleFlowHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.FlowHistory())
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Stats())
}

func (s *Server) handleMonitorStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, MonitorResponse{Running: s.orch.Running()})
}

// handleMonitorStart is idempotent: starting a running loop answers 200
// with the current state.
func (s *Server) handleMonitorStart(c echo.Context) error {
	// The loop must outlive the request, so it is not tied to the
	// request context.
	if err := s.orch.Start(context.Background()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start monitoring")
	}
	return c.JSON(http.StatusOK, MonitorResponse{Running: s.orch.Running()})
}

// handleMonitorStop is safe to call on an idle loop.
func (s *Server) handleMonitorStop(c echo.Context) error {
	if err := s.orch.Stop(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to stop monitoring")
	}
	return c.JSON(http.StatusOK, MonitorResponse{Running: s.orch.Running()})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

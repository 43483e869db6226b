// Package server provides the HTTP service mode: one orchestration
// iteration per request, driven by an external controller that carries
// backlog state between calls.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/orchestrator"
)

const agentName = "task-orchestrator"

// Server exposes the orchestrator over HTTP.
type Server struct {
	echo   *echo.Echo
	worker orchestrator.WorkerClient
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// New creates the HTTP server.
func New(worker orchestrator.WorkerClient, logger *zap.Logger, cfg *Config) (*Server, error) {
	if worker == nil {
		return nil, fmt.Errorf("worker client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
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
		echo:   e,
		worker: worker,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.POST("/invoke", s.handleInvoke)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// InvokeRequest is the request body for POST /invoke. The query embeds
// the backlog as a fenced JSON block plus optional additional context.
type InvokeRequest struct {
	Query    string         `json:"query"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IterationResult is one orchestration iteration's outcome.
type IterationResult struct {
	Passed     bool             `json:"passed"`
	Error      string           `json:"error,omitempty"`
	TaskID     string           `json:"taskId"`
	TaskTitle  string           `json:"taskTitle"`
	Learnings  string           `json:"learnings"`
	Complete   bool             `json:"complete,omitempty"`
	UpdatedPRD *backlog.Backlog `json:"updatedPrd,omitempty"`
}

// InvokeResponse is the response envelope for POST /invoke.
type InvokeResponse struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Result  *IterationResult `json:"result,omitempty"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Agent  string `json:"agent"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Agent: agentName})
}

// handleInvoke runs a single orchestration iteration: pick the next
// incomplete task, dispatch it, record the verdict, and return the
// updated backlog. The controller calls again with that backlog until
// complete is true.
func (s *Server) handleInvoke(c echo.Context) error {
	var req InvokeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid invoke request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, InvokeResponse{
			Success: false,
			Error:   "invalid request body",
		})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, InvokeResponse{
			Success: false,
			Error:   "Missing 'query' field",
		})
	}

	result := s.iterate(c.Request().Context(), req.Query)

	s.logger.Info("iteration handled",
		zap.Bool("passed", result.Passed),
		zap.String("task_id", result.TaskID),
		zap.Bool("complete", result.Complete),
	)

	return c.JSON(http.StatusOK, InvokeResponse{Success: true, Result: result})
}

func (s *Server) iterate(ctx context.Context, query string) *IterationResult {
	b, err := backlog.ExtractFromQuery(query)
	if err != nil {
		s.logger.Warn("failed to extract backlog from query", zap.Error(err))
		return &IterationResult{
			Passed: false,
			Error:  "Failed to extract PRD from query",
		}
	}

	extra := backlog.ExtractContext(query)

	if b.AllComplete() {
		return &IterationResult{
			Passed:     true,
			TaskID:     "all-complete",
			TaskTitle:  "All Tasks Complete",
			Learnings:  "All tasks in the PRD have passed.",
			Complete:   true,
			UpdatedPRD: b,
		}
	}

	story := b.Next()
	if story == nil {
		return &IterationResult{
			Passed: false,
			Error:  "No incomplete tasks found in PRD",
		}
	}

	outcome, err := s.worker.Dispatch(ctx, story, extra)
	if err != nil {
		return &IterationResult{
			Passed:     false,
			Error:      err.Error(),
			TaskID:     story.ID,
			TaskTitle:  story.Title,
			Learnings:  fmt.Sprintf("Failed to dispatch task to worker: %s", err.Error()),
			UpdatedPRD: b,
		}
	}

	b.Mark(story.ID, outcome.Passed)

	learnings := outcome.Learnings
	if learnings == "" {
		learnings = fmt.Sprintf("Task %s. Changes: %s", completedWord(outcome.Passed), outcome.Changes)
	}

	return &IterationResult{
		Passed:     outcome.Passed,
		TaskID:     story.ID,
		TaskTitle:  story.Title,
		Learnings:  learnings,
		Complete:   b.AllComplete(),
		UpdatedPRD: b,
	}
}

func completedWord(passed bool) string {
	if passed {
		return "completed"
	}
	return "failed"
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

// Package api serves the synthesizer and the diagram archive over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/service"
)

// Deps holds the dependencies for the API server.
type Deps struct {
	Service *service.Service
	Logger  *slog.Logger
	// MCP, when set, is mounted under /mcp/ so agents can reach the tool
	// surface over HTTP as well as stdio.
	MCP http.Handler
	// Version is reported by the health endpoint.
	Version string
}

// Server serves the REST API.
type Server struct {
	svc     *service.Service
	logger  *slog.Logger
	version string
	echo    *echo.Echo
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{svc: deps.Service, logger: logger, version: version}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.correlate)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			s.log(c).Debug("http request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit("4M"))

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/api/v1")
	v1.GET("/healthz", s.handleHealth)
	v1.POST("/diagrams", s.handleSynthesize)
	v1.POST("/diagrams/batch", s.handleBatch)
	v1.GET("/diagrams", s.handleListDiagrams)
	v1.GET("/diagrams/:id", s.handleGetDiagram)
	v1.DELETE("/diagrams/:id", s.handleDeleteDiagram)
	v1.GET("/diagrams/:id/export", s.handleExport)
	v1.GET("/diagrams/:id/preview", s.handlePreviewDiagram)
	v1.GET("/diagrams/:id/history", s.handleHistory)
	v1.GET("/diagrams/:id/revisions", s.handleListRevisions)
	v1.POST("/diagrams/:id/revisions", s.handleRevise)
	v1.POST("/validate", s.handleValidate)
	v1.POST("/preview", s.handlePreview)
	v1.POST("/sections/parse", s.handleParseSections)
	v1.POST("/extract", s.handleExtract)
	v1.POST("/verify", s.handleVerify)

	if deps.MCP != nil {
		e.Any("/mcp", echo.WrapHandler(deps.MCP))
		e.Any("/mcp/*", echo.WrapHandler(deps.MCP))
	}

	s.echo = e
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests for up to 30 seconds.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	}
}

// correlate stores the request id and transport on the request context so
// service-level logs and audit events carry them.
func (s *Server) correlate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), rid)
		ctx = logging.WithTransport(ctx, "http")
		if id := c.Param("id"); id != "" {
			ctx = logging.WithDiagramID(ctx, id)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) log(c echo.Context) *slog.Logger {
	return logging.LogWith(c.Request().Context(), s.logger)
}

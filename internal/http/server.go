// Package http provides the HTTP API for queryd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/queryd/internal/generator"
	"github.com/fyrsmithlabs/queryd/internal/indexer"
	"github.com/fyrsmithlabs/queryd/internal/logging"
	"github.com/fyrsmithlabs/queryd/internal/sqlast"
	"github.com/fyrsmithlabs/queryd/internal/store"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client IP; RateBurst is the
	// burst allowance. Zero disables rate limiting.
	RateLimit float64
	RateBurst int
}

// Server provides the queryd HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	generator *generator.Service
	indexer   *indexer.Service
	store     *store.Store
	vectors   vectorstore.Store
	logger    *logging.Logger
	config    *Config
}

// NewServer creates the HTTP server.
func NewServer(gen *generator.Service, idx *indexer.Service, st *store.Store, vectors vectorstore.Store, logger *logging.Logger, cfg *Config) (*Server, error) {
	if gen == nil || idx == nil || st == nil || vectors == nil {
		return nil, fmt.Errorf("all services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:  rate.Limit(cfg.RateLimit),
				Burst: cfg.RateBurst,
			},
		)))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		generator: gen,
		indexer:   idx,
		store:     st,
		vectors:   vectors,
		logger:    logger.Named("http"),
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/generate", s.handleGenerate)
	v1.POST("/validate", s.handleValidate)
	v1.POST("/catalogs/:id/reindex", s.handleReindex)
	v1.GET("/catalogs/:id/context", s.handleContextSummary)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.vectors.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req generator.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.generator.Generate(c.Request().Context(), req)
	switch {
	case errors.Is(err, generator.ErrCatalogNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Catalog not found")
	case errors.Is(err, generator.ErrCatalogInactive):
		return echo.NewHTTPError(http.StatusBadRequest, "Catalog is not active")
	case err != nil && isRequestError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("Query generation failed: %s", err))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleValidate(c echo.Context) error {
	var req generator.ValidationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.generator.Validate(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// ReindexRequest is the request body for POST /api/v1/catalogs/:id/reindex.
type ReindexRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleReindex(c echo.Context) error {
	catalogID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid catalog id")
	}
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	summary, err := s.indexer.Reindex(c.Request().Context(), catalogID, req.Force)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Catalog not found")
	case errors.Is(err, indexer.ErrReindexInProgress):
		return echo.NewHTTPError(http.StatusConflict, "Reindex already in progress")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("Reindex failed: %s", err))
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleContextSummary(c echo.Context) error {
	catalogID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid catalog id")
	}
	if _, err := s.store.GetCatalog(c.Request().Context(), catalogID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Catalog not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	summary, err := s.store.GetContextSummary(c.Request().Context(), catalogID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

// isRequestError classifies validation failures the caller can fix.
func isRequestError(err error) bool {
	if errors.Is(err, sqlast.ErrUnknownDialect) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "question must be") ||
		strings.Contains(msg, "catalog_id is required")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Package httpapi serves location lookup, email parsing and incident intake
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"meldung/internal/extract"
	"meldung/internal/incidents"
	"meldung/internal/locations"
)

type Server struct {
	echo      *echo.Echo
	engine    *extract.Engine
	cache     *locations.Cache
	incidents *incidents.Service
	sync      *locations.SyncService
	metrics   *Metrics
	logger    *zap.Logger
	config    Config
}

type Config struct {
	Addr string
	// LowConfidence flags parse results scoring below it.
	LowConfidence float64
}

func NewServer(engine *extract.Engine, cache *locations.Cache, inc *incidents.Service, sync *locations.SyncService, logger *zap.Logger, cfg Config) (*Server, error) {
	if engine == nil || cache == nil || inc == nil || sync == nil {
		return nil, errors.New("engine, location cache, incident service and location sync are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("10M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		cache:     cache,
		incidents: inc,
		sync:      sync,
		metrics:   NewMetrics(),
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/locations", s.handleListLocations)
	v1.GET("/locations/:id", s.handleGetLocation)
	v1.POST("/locations/reload", s.handleReloadLocations)
	v1.POST("/locations/import", s.handleImportLocations)

	v1.POST("/email/parse", s.handleParseEmail)

	v1.POST("/incidents", s.handleCreateIncident)
	v1.GET("/incidents", s.handleListIncidents)
	v1.GET("/incidents/:id", s.handleGetIncident)
	v1.PATCH("/incidents/:id", s.handleUpdateIncidentStatus)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type HealthResponse struct {
	Status          string `json:"status"`
	LocationsLoaded bool   `json:"locations_loaded"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", LocationsLoaded: s.cache.Loaded()})
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	err := s.echo.Start(s.config.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

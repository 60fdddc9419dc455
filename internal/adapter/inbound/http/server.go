// Package http hosts the callback and ops endpoints.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/palettebot/server/internal/adapter/inbound/http/callback"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/shared/middleware"
	"github.com/palettebot/server/internal/utils/metrics"
)

// Server wraps the HTTP server for callbacks, health, and metrics.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer builds the router and server.
func NewServer(
	cfg config.ServerConfig,
	cb *callback.Handler,
	m *metrics.Metrics,
	log *logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.Metrics(m))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cb.RegisterRoutes(engine.Group("/"))

	return &Server{
		srv: &http.Server{
			Addr:         cfg.Address,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log.With(logger.String("component", "http")),
	}
}

// Start serves until Shutdown is called. It returns nil on a clean close.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("address", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

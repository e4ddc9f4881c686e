// Package ops serves the operations endpoints of the settlement processor:
// /health for orchestration probes and /metrics for Prometheus.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/onchain-casino-settlement/internal/config"
)

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
	cfg        config.ServerConfig
}

func NewServer(log *slog.Logger, cfg *config.Config, health *HealthChecker) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := log.With("component", "ops_server")
	httpRouter := gin.New()
	setupRouter(logger, httpRouter, health, nil)

	return &Server{
		logger:     logger,
		httpRouter: httpRouter,
		cfg:        cfg.Server,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      httpRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
}

// Start blocks until the server stops
func (s *Server) Start() error {
	s.logger.Info("Starting ops server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server within the configured timeout
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ops server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}

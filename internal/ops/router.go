package ops

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/onchain-casino-settlement/internal/ops/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupRouter(logger *slog.Logger, r *gin.Engine, health *HealthChecker, metricsHandler http.Handler) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	r.GET("/health", func(c *gin.Context) {
		deps, healthy := health.Snapshot()
		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": deps,
			"timestamp":    health.Now().UTC(),
		})
	})

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
}

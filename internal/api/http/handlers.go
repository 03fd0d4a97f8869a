// Package http serves the read-only monitoring endpoints: health,
// Prometheus metrics, and the application catalog with live statuses.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agl-services/applaunchd/internal/domain/launcher"
	"github.com/agl-services/applaunchd/internal/infrastructure/monitoring"
)

// Handlers bundles the monitoring endpoints.
type Handlers struct {
	launcher *launcher.Launcher
	metrics  *monitoring.Metrics
}

// NewHandlers creates monitoring handlers over the launcher.
func NewHandlers(l *launcher.Launcher, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{launcher: l, metrics: metrics}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/metrics", h.prometheusMetrics())
	router.GET("/v1/apps", h.listApps)
}

func (h *Handlers) health(c *gin.Context) {
	h.metrics.UpdateUptime()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) prometheusMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func (h *Handlers) listApps(c *gin.Context) {
	graphicalOnly := c.Query("graphical") == "true"
	c.JSON(http.StatusOK, gin.H{
		"applications": h.launcher.List(graphicalOnly),
	})
}

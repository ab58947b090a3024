package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// AdminProbe feeds the admin endpoints with live service state.
type AdminProbe interface {
	Ready() bool
	Status() any
}

// NewAdminRouter builds the operator HTTP surface: health, readiness,
// prometheus metrics and a status snapshot.
func NewAdminRouter(node string, corsOrigins []string, probe AdminProbe) *gin.Engine {
	RegisterMetrics()
	// debug mode prints route tables to stdout, which carries command output
	gin.SetMode(gin.ReleaseMode)

	started := time.Now()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"node":    node,
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := probe != nil && probe.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(started).String(),
			"node":    node,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		if probe == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status source"})
			return
		}
		c.JSON(http.StatusOK, probe.Status())
	})
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

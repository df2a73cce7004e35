package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scholar-track/pulse-api/internal/service"
)

// Metrics records per-request latency and status against the route
// template, so /students/:id stays one series regardless of the ID.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

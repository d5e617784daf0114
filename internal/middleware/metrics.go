package middleware

import (
	"time"

	"turnopos/internal/infra"

	"github.com/gin-gonic/gin"
)

// Metrics records request latency by route template, not raw path.
func Metrics(m *infra.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/counselbridge-backend/internal/observability"
)

// Metrics records request counts, latency and inflight per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		m := observability.Current()
		if !m.Enabled() {
			c.Next()
			return
		}
		start := time.Now()
		m.APIInflightAdd(1)
		c.Next()
		m.APIInflightAdd(-1)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveAPI(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

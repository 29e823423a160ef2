package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/counselbridge-backend/internal/observability"
)

func Metrics(c *gin.Context) {
	m := observability.Current()
	if !m.Enabled() {
		c.String(http.StatusNotFound, "metrics disabled\n")
		return
	}
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	m.WritePrometheus(c.Writer)
}

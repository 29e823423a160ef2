package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/counselbridge-backend/internal/platform/ctxutil"
)

// Trace attaches a request id and, when a span is recording, the trace id
// to the request context so logs can be correlated.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		td := &ctxutil.TraceData{RequestID: requestID}
		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().IsValid() {
			td.TraceID = span.SpanContext().TraceID().String()
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

package tracing

import (
	"context"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware starts a span per request. An incoming X-Trace-ID (or
// X-Request-ID) joins the caller's trace; the trace id is echoed back as
// X-Request-ID.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		traceID := TraceID(c.GetHeader(HeaderTraceID))
		if traceID == "" {
			traceID = TraceID(c.GetHeader(HeaderRequestID))
		}
		if traceID != "" {
			ctx = WithTraceID(ctx, traceID)
		}
		if parent := SpanID(c.GetHeader(HeaderSpanID)); parent != "" {
			ctx = context.WithValue(ctx, spanIDKey, parent)
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.Status = c.Writer.Status()
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		span.End(err)
	}
}

// Package middleware: gin-обработчики admin API: логирование запросов и HTTP-метрики.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/netsync/internal/logging"
)

// TraceIDKey ключ trace-id в gin.Context
const TraceIDKey = "trace_id"

// RequestLogger пишет строку на запрос с trace-id. Если otelgin уже открыл span,
// берётся его trace-id, иначе генерируется uuid.
type RequestLogger struct {
	logger *logging.Logger
}

func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.GetAPILogger()
	}
	return &RequestLogger{logger: logger}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		traceID := uuid.NewString()
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		}
		c.Set(TraceIDKey, traceID)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		if status >= 500 {
			rl.logger.Warn("[HTTP] %s %s %d %s ip=%s trace=%s", c.Request.Method, path, status, time.Since(start), c.ClientIP(), traceID)
			return
		}
		rl.logger.Debug("[HTTP] %s %s %d %s ip=%s trace=%s", c.Request.Method, path, status, time.Since(start), c.ClientIP(), traceID)
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"example.com/membership-system/pkg/logger"
)

// Заголовки идентификаторов запроса.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID" // принимается вместо X-Trace-ID
)

// quietPaths не пишутся в журнал запросов: их опрашивают пробы оркестратора.
var quietPaths = map[string]bool{"/healthz": true, "/readyz": true}

// RequestIDs готовит контекст запроса для логирования:
//   - trace_id берётся из span otelgin, затем из заголовков, иначе генерируется;
//   - correlation_id из X-Correlation-ID или новый;
//   - transaction_id из параметра маршрута :transactionId (callback, админские маршруты).
//
// Должен стоять после otelgin.Middleware.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		traceID := requestTraceID(c)
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx = logger.NewContextWithIDs(ctx, traceID, correlationID)
		if txID := c.Param("transactionId"); txID != "" {
			ctx = logger.WithTransactionID(ctx, txID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)

		c.Next()

		if quietPaths[c.FullPath()] {
			return
		}

		status := c.Writer.Status()
		log := logger.FromContext(ctx)
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP запрос")
	}
}

func requestTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	for _, h := range []string{HeaderTraceID, HeaderRequestID} {
		if id := c.GetHeader(h); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

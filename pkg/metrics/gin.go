package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware учитывает каждый HTTP запрос по шаблону маршрута, а не по URL,
// чтобы transactionId не раздувал число серий. Редиректы считаются успехом.
func GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			status = "error"
		}

		RequestsTotal.WithLabelValues(service, route, status).Inc()
		RequestDuration.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
	}
}

package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Origin, Content-Type, Authorization, " +
		HeaderRequestID + ", " + HeaderTraceID + ", " + HeaderCorrelationID
	corsMaxAge = "3600"
)

// CORS разрешает браузерные запросы с перечисленных источников.
// Пустой список или "*" среди источников разрешает любой источник.
// Запросы без Origin и с чужим Origin проходят без CORS заголовков.
func CORS(origins []string) gin.HandlerFunc {
	trimmed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			trimmed = append(trimmed, o)
		}
	}
	anyOrigin := len(trimmed) == 0 || slices.Contains(trimmed, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || (!anyOrigin && !slices.Contains(trimmed, origin)) {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if anyOrigin {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

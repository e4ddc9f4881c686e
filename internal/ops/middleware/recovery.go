package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery turns a panic in a handler into a 500 and logs the stack
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("Panic recovered",
				"error", r,
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"correlation_id", GetCorrelationID(c),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"status":         "error",
				"correlation_id": GetCorrelationID(c),
			})
		}()
		c.Next()
	}
}

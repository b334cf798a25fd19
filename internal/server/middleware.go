package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ragchat/internal/logger"
)

// LoggerMiddleware attaches a request-scoped logger to the request context
// and logs every completed request.
func LoggerMiddleware(base logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		log := base.With("request_id", requestID)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))

		c.Next()

		log.Info("request completed",
			"method", c.Request.Method,
			"path", path,
			"status_code", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
			"error", c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}

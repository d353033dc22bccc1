package http

import (
	"net/http"
	"time"

	"aidesk/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows the configured browser origins. An empty list allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	cfg.AllowWebSockets = true
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

// LoggingMiddleware logs each request with its status and latency.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.Request.URL.Path
		latency := time.Since(start)
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("%s %s -> %d (%s) from %s", c.Request.Method, path, status, latency, c.ClientIP())
		case status >= http.StatusBadRequest:
			logger.Warn("%s %s -> %d (%s) from %s", c.Request.Method, path, status, latency, c.ClientIP())
		default:
			logger.Info("%s %s -> %d (%s) from %s", c.Request.Method, path, status, latency, c.ClientIP())
		}
	}
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

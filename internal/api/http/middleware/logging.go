package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dtroode/moodist-server/internal/logger"
)

// Logging logs HTTP requests and results.
type Logging struct {
	logger *logger.Logger
}

// NewLogging creates a new Logging middleware.
func NewLogging(logger *logger.Logger) *Logging {
	return &Logging{logger: logger}
}

// Handle logs route, duration and status for each request. Query strings are
// not logged since verification links carry tokens.
func (l *Logging) Handle(c *gin.Context) {
	start := time.Now()

	l.logger.Debug("HTTP request started",
		"method", c.Request.Method,
		"route", route(c),
		"request_id", c.GetString(RequestIDKey))

	c.Next()

	status := c.Writer.Status()
	l.logger.Info("HTTP request completed",
		"method", c.Request.Method,
		"route", route(c),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", c.GetString(RequestIDKey))

	if len(c.Errors) > 0 && status >= 500 {
		l.logger.Error("HTTP request failed",
			"route", route(c),
			"error", c.Errors.Last().Error(),
			"request_id", c.GetString(RequestIDKey))
	}
}

// route returns the matched route pattern, which never contains path tokens.
func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return "unmatched"
}

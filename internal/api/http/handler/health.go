package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dtroode/moodist-server/internal/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health serves GET /health.
type Health struct {
	store   Pinger
	version string
	logger  *logger.Logger
	now     func() time.Time
}

func NewHealth(store Pinger, version string, logger *logger.Logger) *Health {
	return &Health{store: store, version: version, logger: logger, now: time.Now}
}

func (h *Health) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	code, status, store := http.StatusOK, "ok", "ok"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check: store unavailable", "error", err.Error())
		code, status, store = http.StatusServiceUnavailable, "degraded", "unavailable"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "moodist-server",
		"version":   h.version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"store":     store,
	})
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/dtroode/moodist-server/internal/api/http/middleware"
	"github.com/dtroode/moodist-server/internal/logger"
	"github.com/dtroode/moodist-server/internal/model"
)

// ConnectionService is the connection ledger behind the connection routes.
type ConnectionService interface {
	Request(ctx context.Context, actor model.User, counterpartID, note string) (model.Connection, error)
	Respond(ctx context.Context, id string, actor model.User, accept bool) (model.Connection, error)
	Revoke(ctx context.Context, id string, actor model.User, reason string) (model.Connection, error)
	List(ctx context.Context, actor model.User) ([]model.Connection, error)
}

// Connection serves the session protected connection routes.
type Connection struct {
	service ConnectionService
	logger  *logger.Logger
}

func NewConnection(service ConnectionService, logger *logger.Logger) *Connection {
	return &Connection{service: service, logger: logger}
}

type connectionResponse struct {
	model.Connection
	Counterpart string `json:"counterpart_id"`
}

func viewFor(actor model.User) func(conn model.Connection, _ int) connectionResponse {
	return func(conn model.Connection, _ int) connectionResponse {
		return connectionResponse{
			Connection:  conn,
			Counterpart: lo.Ternary(conn.PatientID == actor.UniqueID, conn.ClinicianID, conn.PatientID),
		}
	}
}

// List handles GET /api/connections.
func (h *Connection) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	conns, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	status := c.Query("status")
	if status != "" {
		conns = lo.Filter(conns, func(conn model.Connection, _ int) bool {
			return string(conn.Status) == status
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      true,
		"connections": lo.Map(conns, viewFor(actor)),
		"count":       len(conns),
	})
}

type connectionRequest struct {
	CounterpartID string `json:"counterpart_id" binding:"required"`
	Note          string `json:"note"`
}

// Request handles POST /api/connections.
func (h *Connection) Request(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "counterpart_id is required")
		return
	}

	conn, err := h.service.Request(c.Request.Context(), actor, req.CounterpartID, req.Note)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": true, "connection": viewFor(actor)(conn, 0)})
}

type respondRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// Respond handles POST /api/connections/:id/respond.
func (h *Connection) Respond(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "accept is required")
		return
	}

	conn, err := h.service.Respond(c.Request.Context(), c.Param("id"), actor, *req.Accept)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "connection": viewFor(actor)(conn, 0)})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke handles POST /api/connections/:id/revoke.
func (h *Connection) Revoke(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req revokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	conn, err := h.service.Revoke(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "connection": viewFor(actor)(conn, 0)})
}

func (h *Connection) actor(c *gin.Context) (model.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		handleError(c, h.logger, model.ErrUnauthenticated)
		return model.User{}, false
	}
	return user, true
}

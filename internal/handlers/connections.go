package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/services"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// ConnectionHandler exposes target connection management endpoints.
type ConnectionHandler struct {
	connections *services.ConnectionService
	schemas     *services.SchemaService
}

func NewConnectionHandler(connections *services.ConnectionService, schemas *services.SchemaService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, schemas: schemas}
}

// POST /api/connections
func (h *ConnectionHandler) Create(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req services.ConnectionInput
	if !bindAndValidate(c, &req) {
		return
	}

	conn, err := h.connections.Create(requestContext(c), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, conn)
}

// GET /api/connections
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.connections.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, conns)
}

// GET /api/connections/:connectionID
func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.connections.GetConnection(requestContext(c), c.Param("connectionID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, conn)
}

// PUT /api/connections/:connectionID
func (h *ConnectionHandler) Update(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req services.ConnectionInput
	if !bindAndValidate(c, &req) {
		return
	}

	conn, err := h.connections.Update(requestContext(c), c.Param("connectionID"), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, conn)
}

// DELETE /api/connections/:connectionID
func (h *ConnectionHandler) Delete(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.connections.Delete(requestContext(c), c.Param("connectionID"), actorID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/connections/:connectionID/schema/refresh
func (h *ConnectionHandler) RefreshSchema(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	tables, err := h.schemas.Refresh(requestContext(c), actorID, c.Param("connectionID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"tables": len(tables)})
}

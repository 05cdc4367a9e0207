package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/internal/services"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// GrantHandler exposes grant management and bulk application endpoints.
type GrantHandler struct {
	grants *services.GrantService
	bulk   *services.BulkService
}

func NewGrantHandler(grants *services.GrantService, bulk *services.BulkService) *GrantHandler {
	return &GrantHandler{grants: grants, bulk: bulk}
}

// POST /api/grants
func (h *GrantHandler) Create(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req services.GrantInput
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.grants.Create(requestContext(c), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, grant)
}

// DELETE /api/grants/:grantID
func (h *GrantHandler) Revoke(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	grant, err := h.grants.Revoke(requestContext(c), c.Param("grantID"), actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, grant)
}

// GET /api/users/:userID/grants?connection_id=...
func (h *GrantHandler) ListForUser(c *gin.Context) {
	grants, err := h.grants.ListForUser(requestContext(c), c.Param("userID"), c.Query("connection_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, grants)
}

type bulkRequest struct {
	ConnectionID        string                 `json:"connection_id" validate:"required"`
	Types               []string               `json:"types" validate:"required,min=1"`
	TargetUserEmails    []string               `json:"target_user_emails"`
	TargetTables        []permissions.TableRef `json:"target_tables"`
	TargetSchemas       []string               `json:"target_schemas"`
	IncludeSystemTables bool                   `json:"include_system_tables"`
	Overwrite           bool                   `json:"overwrite"`
	Granted             *bool                  `json:"granted"`
	ExpiresAt           *time.Time             `json:"expires_at"`
}

// POST /api/grants/bulk
func (h *GrantHandler) BulkApply(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req bulkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	types := make([]permissions.PermissionType, 0, len(req.Types))
	for _, raw := range req.Types {
		pType := permissions.PermissionType(raw)
		if !pType.Valid() {
			response.Error(c, errors.NewBadRequest("unknown permission type: "+raw))
			return
		}
		types = append(types, pType)
	}

	granted := true
	if req.Granted != nil {
		granted = *req.Granted
	}

	result, err := h.bulk.Apply(requestContext(c), permissions.BulkInput{
		ConnectionID:        req.ConnectionID,
		Types:               types,
		TargetUserEmails:    req.TargetUserEmails,
		TargetTables:        req.TargetTables,
		TargetSchemas:       req.TargetSchemas,
		IncludeSystemTables: req.IncludeSystemTables,
		Overwrite:           req.Overwrite,
		Granted:             granted,
		ExpiresAt:           req.ExpiresAt,
	}, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

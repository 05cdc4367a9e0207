package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/services"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// TemplateHandler exposes permission template management and application.
type TemplateHandler struct {
	templates *services.TemplateService
}

func NewTemplateHandler(templates *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// POST /api/templates
func (h *TemplateHandler) Create(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req services.TemplateInput
	if !bindAndValidate(c, &req) {
		return
	}

	template, err := h.templates.Create(requestContext(c), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, template)
}

// GET /api/templates?connection_id=...
func (h *TemplateHandler) List(c *gin.Context) {
	templates, err := h.templates.List(requestContext(c), c.Query("connection_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, templates)
}

// GET /api/templates/:templateID
func (h *TemplateHandler) Get(c *gin.Context) {
	template, err := h.templates.Get(requestContext(c), c.Param("templateID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, template)
}

// POST /api/templates/:templateID/deactivate
func (h *TemplateHandler) Deactivate(c *gin.Context) {
	if err := h.templates.Deactivate(requestContext(c), c.Param("templateID")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}

// DELETE /api/templates/:templateID
func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.Delete(requestContext(c), c.Param("templateID")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type applyTemplateRequest struct {
	TargetUserEmails []string `json:"target_user_emails"`
	Overwrite        bool     `json:"overwrite"`
}

// POST /api/templates/:templateID/apply
func (h *TemplateHandler) Apply(c *gin.Context) {
	actorID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req applyTemplateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.templates.Apply(requestContext(c), c.Param("templateID"),
		req.TargetUserEmails, actorID, req.Overwrite)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/query"
	"github.com/nateliu28/querydeck/internal/services"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// DataHandler exposes permission-aware browsing, CRUD, and ad-hoc SQL over
// target connections.
type DataHandler struct {
	data *services.DataService
}

func NewDataHandler(data *services.DataService) *DataHandler {
	return &DataHandler{data: data}
}

type browseRequest struct {
	Filters  []query.ColumnFilter `json:"filters"`
	Sorts    []query.SortOrder    `json:"sorts"`
	Page     int                  `json:"page" validate:"min=0"`
	PageSize int                  `json:"page_size" validate:"min=0,max=500"`
}

type insertRequest struct {
	Values map[string]any `json:"values" validate:"required"`
}

type updateRequest struct {
	Values  map[string]any       `json:"values" validate:"required"`
	Filters []query.ColumnFilter `json:"filters"`
}

type deleteRequest struct {
	Filters []query.ColumnFilter `json:"filters"`
}

type sqlRequest struct {
	SQL string `json:"sql" validate:"required"`
}

// GET /api/connections/:connectionID/tables
func (h *DataHandler) ListTables(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	tables, err := h.data.ListTables(requestContext(c), userID, c.Param("connectionID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, tables)
}

// GET /api/connections/:connectionID/schemas/:schemaName/tables/:tableName
func (h *DataHandler) GetTable(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	table, err := h.data.GetTable(requestContext(c), userID,
		c.Param("connectionID"), c.Param("schemaName"), c.Param("tableName"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, table)
}

// POST /api/connections/:connectionID/schemas/:schemaName/tables/:tableName/rows/browse
func (h *DataHandler) BrowseRows(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req browseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.PageSize == 0 {
		req.PageSize = 50
	}

	page, err := h.data.BrowseRows(requestContext(c), userID,
		c.Param("connectionID"), c.Param("schemaName"), c.Param("tableName"),
		req.Filters, req.Sorts, query.Page{Number: req.Page, Size: req.PageSize})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page, &response.Meta{
		Page:    req.Page,
		PerPage: req.PageSize,
		Total:   int(page.TotalRecords),
	})
}

// POST /api/connections/:connectionID/schemas/:schemaName/tables/:tableName/rows
func (h *DataHandler) InsertRow(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req insertRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.data.InsertRow(requestContext(c), userID,
		c.Param("connectionID"), c.Param("schemaName"), c.Param("tableName"), req.Values)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// PUT /api/connections/:connectionID/schemas/:schemaName/tables/:tableName/rows
func (h *DataHandler) UpdateRows(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req updateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.data.UpdateRows(requestContext(c), userID,
		c.Param("connectionID"), c.Param("schemaName"), c.Param("tableName"),
		req.Values, req.Filters)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// DELETE /api/connections/:connectionID/schemas/:schemaName/tables/:tableName/rows
func (h *DataHandler) DeleteRows(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req deleteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.data.DeleteRows(requestContext(c), userID,
		c.Param("connectionID"), c.Param("schemaName"), c.Param("tableName"), req.Filters)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// POST /api/connections/:connectionID/sql
func (h *DataHandler) ExecuteSQL(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req sqlRequest
	if !bindAndValidate(c, &req) {
		return
	}

	outcome, err := h.data.ExecuteSQL(requestContext(c), userID, c.Param("connectionID"), req.SQL)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, outcome)
}

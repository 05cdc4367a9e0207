package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/middleware"
	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/schema"
	"github.com/nateliu28/querydeck/internal/services"
)

func newConnectionRouter(t *testing.T, crawl services.CrawlFunc) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	connSvc, err := services.NewConnectionService(db, nil, nil, nil)
	require.NoError(t, err)
	snapshots, err := schema.NewSnapshotStore(db)
	require.NoError(t, err)
	schemaSvc, err := services.NewSchemaService(connSvc, snapshots, crawl, nil)
	require.NoError(t, err)

	handler := NewConnectionHandler(connSvc, schemaSvc)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.CtxUserIDKey, "admin-id")
	})
	r.POST("/api/connections", handler.Create)
	r.GET("/api/connections", handler.List)
	r.GET("/api/connections/:connectionID", handler.Get)
	r.DELETE("/api/connections/:connectionID", handler.Delete)
	r.POST("/api/connections/:connectionID/schema/refresh", handler.RefreshSchema)
	return r, db
}

func TestConnectionHandlerCreateAndGet(t *testing.T) {
	r, _ := newConnectionRouter(t, nil)

	rec := postJSON(t, r, "/api/connections", gin.H{
		"name":           "reporting",
		"driver":         "sqlite",
		"dsn":            "file:reporting.db",
		"default_schema": "main",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data models.DBConnection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)

	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/connections/"+created.Data.ID, nil))
	require.Equal(t, http.StatusOK, get.Code)

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/connections/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestConnectionHandlerCreateRejectsUnknownDriver(t *testing.T) {
	r, _ := newConnectionRouter(t, nil)

	rec := postJSON(t, r, "/api/connections", gin.H{
		"name":   "legacy",
		"driver": "oracle",
		"dsn":    "oracle://legacy",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionHandlerRefreshSchema(t *testing.T) {
	crawl := func(conn *models.DBConnection) ([]schema.TableMetadata, error) {
		return []schema.TableMetadata{{
			SchemaName: "main",
			TableName:  "widgets",
			Columns:    []schema.ColumnMetadata{{Name: "id", DataType: "INTEGER"}},
		}}, nil
	}
	r, db := newConnectionRouter(t, crawl)

	rec := postJSON(t, r, "/api/connections", gin.H{
		"name":   "reporting",
		"driver": "sqlite",
		"dsn":    "file:reporting.db",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data models.DBConnection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	refresh := httptest.NewRecorder()
	r.ServeHTTP(refresh, httptest.NewRequest(http.MethodPost,
		"/api/connections/"+created.Data.ID+"/schema/refresh", nil))
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())

	var count int64
	require.NoError(t, db.Model(&models.SchemaTable{}).
		Where("connection_id = ?", created.Data.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

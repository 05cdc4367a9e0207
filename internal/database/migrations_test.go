package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/models"
)

func TestAutoMigrateCreatesModelTables(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	for _, table := range []string{
		"users",
		"db_connections",
		"permission_grants",
		"permission_templates",
		"permission_template_items",
		"schema_tables",
		"schema_columns",
		"audit_logs",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestSeedDataBootstrapsRootOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	var admins []models.User
	require.NoError(t, db.Find(&admins).Error)
	require.Len(t, admins, 1)
	assert.True(t, admins[0].IsRoot)
	assert.True(t, admins[0].IsApproved)
}

func TestCreatePersistsExplicitInactiveFlags(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	user := models.User{Username: "off", Email: "off@example.com", Password: "x", IsActive: false, IsApproved: true}
	require.NoError(t, db.Create(&user).Error)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	assert.False(t, stored.IsActive, "explicit deactivation must survive insert")

	template := models.PermissionTemplate{
		ConnectionID: createConnection(t, db),
		Name:         "dormant",
		IsActive:     false,
	}
	require.NoError(t, db.Create(&template).Error)

	var storedTemplate models.PermissionTemplate
	require.NoError(t, db.First(&storedTemplate, "id = ?", template.ID).Error)
	assert.False(t, storedTemplate.IsActive)
}

func createConnection(t *testing.T, db *gorm.DB) string {
	t.Helper()

	conn := models.DBConnection{Name: "fixture", Driver: "sqlite", DSN: "file::memory:", IsActive: true}
	require.NoError(t, db.Create(&conn).Error)
	return conn.ID
}

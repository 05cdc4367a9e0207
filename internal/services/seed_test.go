package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
)

// seedTestConnection satisfies the grant/template foreign keys for fixtures
// that reference connections by bare id.
func seedTestConnection(t *testing.T, db *gorm.DB, id string) {
	t.Helper()

	conn := models.DBConnection{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Driver:    "sqlite",
		DSN:       "file::memory:",
		IsActive:  true,
	}
	require.NoError(t, db.Where("id = ?", id).FirstOrCreate(&conn).Error)
}

// seedTestUser satisfies the audit-log foreign key for entries recorded
// against a bare user id.
func seedTestUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()

	user := models.User{
		ID:       id,
		Username: "user-" + id,
		Email:    id + "@example.com",
		Password: "x",
		IsActive: true,
	}
	require.NoError(t, db.Where("id = ?", id).FirstOrCreate(&user).Error)
}

package database

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.DBConnection{},
		&models.PermissionGrant{},
		&models.PermissionTemplate{},
		&models.PermissionTemplateItem{},
		&models.SchemaTable{},
		&models.SchemaColumn{},
		&models.AuditLog{},
	)
}

// SeedData inserts the bootstrap administrator when no users exist yet.
func SeedData(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}

	admin := models.User{
		Username:   "admin",
		Email:      "admin@localhost",
		Password:   string(hash),
		IsRoot:     true,
		IsActive:   true,
		IsApproved: true,
	}

	return db.Create(&admin).Error
}

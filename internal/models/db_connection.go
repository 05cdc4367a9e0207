package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DBConnection represents a target database reachable through the execution
// gateway. Credentials live in the DSN; pool lifecycle is managed elsewhere.
type DBConnection struct {
	BaseModel

	Name          string         `gorm:"uniqueIndex;not null" json:"name"`
	Description   string         `json:"description"`
	Driver        string         `gorm:"not null" json:"driver"`
	DSN           string         `gorm:"not null" json:"-"`
	DefaultSchema string         `json:"default_schema"`
	OwnerUserID   string         `gorm:"type:uuid;index" json:"owner_user_id"`
	Metadata      datatypes.JSON `json:"metadata"`
	IsActive      bool           `gorm:"not null" json:"is_active"`
	LastUsedAt    *time.Time     `json:"last_used_at"`

	Grants    []PermissionGrant    `gorm:"foreignKey:ConnectionID" json:"grants,omitempty"`
	Templates []PermissionTemplate `gorm:"foreignKey:ConnectionID" json:"templates,omitempty"`
}

// BeforeDelete removes grants, templates, and metadata snapshots tied to the
// connection so teardown never leaves orphaned authorization rows behind.
func (c *DBConnection) BeforeDelete(tx *gorm.DB) error {
	if err := tx.Where("connection_id = ?", c.ID).
		Delete(&PermissionGrant{}).Error; err != nil {
		return err
	}

	var templateIDs []string
	if err := tx.Model(&PermissionTemplate{}).
		Where("connection_id = ?", c.ID).
		Pluck("id", &templateIDs).Error; err != nil {
		return err
	}
	if len(templateIDs) > 0 {
		if err := tx.Where("template_id IN ?", templateIDs).
			Delete(&PermissionTemplateItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", c.ID).
			Delete(&PermissionTemplate{}).Error; err != nil {
			return err
		}
	}

	if err := tx.Where("connection_id = ?", c.ID).
		Delete(&SchemaColumn{}).Error; err != nil {
		return err
	}
	return tx.Where("connection_id = ?", c.ID).
		Delete(&SchemaTable{}).Error
}

package models

import (
	"time"
)

// PermissionGrant is the atomic authorization unit: one (user, connection,
// scope, type) tuple with coordinates down to column granularity. Granted
// false records an explicit deny, which still terminates scope fallback.
type PermissionGrant struct {
	BaseModel

	UserID       string `gorm:"type:uuid;not null;index:idx_grant_lookup,priority:1" json:"user_id"`
	ConnectionID string `gorm:"type:uuid;not null;index:idx_grant_lookup,priority:2" json:"connection_id"`

	Scope          string `gorm:"type:varchar(16);not null" json:"scope"`
	PermissionType string `gorm:"type:varchar(16);not null;index:idx_grant_lookup,priority:3" json:"permission_type"`

	SchemaName string `gorm:"type:varchar(128);index" json:"schema_name"`
	TableName  string `gorm:"type:varchar(128);index" json:"table_name"`
	ColumnName string `gorm:"type:varchar(128)" json:"column_name"`

	Granted     bool       `gorm:"not null" json:"granted"`
	GrantedByID string     `gorm:"type:uuid" json:"granted_by_id"`
	GrantedAt   time.Time  `gorm:"not null" json:"granted_at"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at"`
	Comment     string     `json:"comment"`
}

// IsActiveAt reports whether the grant participates in resolution at the
// given instant. Expired and not-yet-effective grants are invisible, not
// denials.
func (g *PermissionGrant) IsActiveAt(now time.Time) bool {
	if g == nil {
		return false
	}
	if g.GrantedAt.After(now) {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

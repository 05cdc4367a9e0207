package models

// PermissionTemplate is a named, reusable bundle of grant definitions owned
// by a connection. Items are a composition: they are destroyed with the
// template.
type PermissionTemplate struct {
	BaseModel

	ConnectionID string `gorm:"type:uuid;not null;index" json:"connection_id"`
	Name         string `gorm:"not null;index" json:"name"`
	Description  string `json:"description"`
	IsActive     bool   `gorm:"not null" json:"is_active"`
	CreatedByID  string `gorm:"type:uuid" json:"created_by_id"`

	Items []PermissionTemplateItem `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// PermissionTemplateItem is one grant definition inside a template.
type PermissionTemplateItem struct {
	BaseModel

	TemplateID     string `gorm:"type:uuid;not null;index" json:"template_id"`
	Scope          string `gorm:"type:varchar(16);not null" json:"scope"`
	PermissionType string `gorm:"type:varchar(16);not null" json:"permission_type"`
	SchemaName     string `gorm:"type:varchar(128)" json:"schema_name"`
	TableName      string `gorm:"type:varchar(128)" json:"table_name"`
	ColumnName     string `gorm:"type:varchar(128)" json:"column_name"`
	Granted        bool   `gorm:"not null" json:"granted"`
	Comment        string `json:"comment"`
}

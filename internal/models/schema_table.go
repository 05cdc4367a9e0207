package models

import "time"

// SchemaTable is a persisted snapshot of a table discovered on a target
// connection. Crawling happens in an external introspection job; this row is
// what the projector and query layers read.
type SchemaTable struct {
	BaseModel

	ConnectionID string     `gorm:"type:uuid;not null;index:idx_schema_table,priority:1" json:"connection_id"`
	SchemaName   string     `gorm:"type:varchar(128);not null;index:idx_schema_table,priority:2" json:"schema_name"`
	TableName    string     `gorm:"type:varchar(128);not null;index:idx_schema_table,priority:3" json:"table_name"`
	TableType    string     `gorm:"type:varchar(32)" json:"table_type"`
	Comment      string     `json:"comment"`
	IsSystem     bool       `gorm:"default:false" json:"is_system"`
	CrawledAt    *time.Time `json:"crawled_at"`

	Columns []SchemaColumn `gorm:"foreignKey:TableID;constraint:OnDelete:CASCADE" json:"columns,omitempty"`
}

// SchemaColumn is a persisted snapshot of one column of a SchemaTable.
type SchemaColumn struct {
	BaseModel

	TableID      string `gorm:"type:uuid;not null;index" json:"table_id"`
	ConnectionID string `gorm:"type:uuid;not null;index" json:"connection_id"`
	ColumnName   string `gorm:"type:varchar(128);not null" json:"column_name"`
	DataType     string `gorm:"type:varchar(64)" json:"data_type"`
	Size         int    `json:"size"`
	Nullable     bool   `json:"nullable"`
	PrimaryKey   bool   `json:"primary_key"`
	AutoInc      bool   `json:"auto_increment"`
	Comment      string `json:"comment"`
	Ordinal      int    `json:"ordinal_position"`
}

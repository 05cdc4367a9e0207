// Package schema exposes table and column metadata for target connections.
// The crawler introspects live targets; results land in the snapshot store,
// which is the only thing consumers ever read.
package schema

import "context"

// ColumnMetadata describes one column of a target table.
type ColumnMetadata struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Size       int    `json:"size"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	AutoInc    bool   `json:"auto_increment"`
	Comment    string `json:"comment"`
	Ordinal    int    `json:"ordinal_position"`
}

// TableMetadata describes one table of a target connection.
type TableMetadata struct {
	SchemaName string           `json:"schema_name"`
	TableName  string           `json:"table_name"`
	TableType  string           `json:"table_type"`
	Comment    string           `json:"comment"`
	IsSystem   bool             `json:"is_system"`
	Columns    []ColumnMetadata `json:"columns"`
}

// Column returns the named column, if present.
func (t TableMetadata) Column(name string) (ColumnMetadata, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnMetadata{}, false
}

// Provider supplies table metadata for a connection.
type Provider interface {
	GetTables(ctx context.Context, connectionID string) ([]TableMetadata, error)
	GetTable(ctx context.Context, connectionID, schemaName, tableName string) (TableMetadata, error)
}

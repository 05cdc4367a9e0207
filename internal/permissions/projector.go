package permissions

import (
	"context"
	"fmt"

	"github.com/nateliu28/querydeck/internal/schema"
)

// CapabilityFlags are the four resolved booleans attached to accessible
// entities.
type CapabilityFlags struct {
	CanRead   bool `json:"can_read"`
	CanWrite  bool `json:"can_write"`
	CanDelete bool `json:"can_delete"`
	CanAdmin  bool `json:"can_admin"`
}

// AccessibleColumn is column metadata annotated with resolved capabilities.
// Metadata stays visible even without READ; only content access is gated.
type AccessibleColumn struct {
	schema.ColumnMetadata
	CapabilityFlags

	CanModifyData  bool `json:"can_modify_data"`
	CanPerformCrud bool `json:"can_perform_crud"`
}

// AccessibleTable is table metadata annotated with resolved capabilities.
type AccessibleTable struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"table_name"`
	TableType  string `json:"table_type"`
	Comment    string `json:"comment"`
	IsSystem   bool   `json:"is_system"`
	CapabilityFlags

	Columns []AccessibleColumn `json:"columns"`
}

// ReadableColumns returns the names of columns whose content the user may read.
func (t AccessibleTable) ReadableColumns() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.CanRead {
			names = append(names, col.Name)
		}
	}
	return names
}

// Column returns the named accessible column, if present.
func (t AccessibleTable) Column(name string) (AccessibleColumn, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return AccessibleColumn{}, false
}

// Projector turns raw schema metadata plus resolved permissions into
// accessible views for listing and browsing endpoints.
type Projector struct {
	resolver DecisionResolver
}

// NewProjector constructs a projector over the (normally cached) resolver.
func NewProjector(resolver DecisionResolver) (*Projector, error) {
	if resolver == nil {
		return nil, errNilResolver
	}
	return &Projector{resolver: resolver}, nil
}

// Project annotates each table and column with capability flags for the
// user. Column-level resolution falls back to the table grant through the
// resolver's scope walk.
func (p *Projector) Project(ctx context.Context, userID, connectionID string, tables []schema.TableMetadata) ([]AccessibleTable, error) {
	out := make([]AccessibleTable, 0, len(tables))

	for _, table := range tables {
		projected, err := p.ProjectTable(ctx, userID, connectionID, table)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

// ProjectTable annotates a single table.
func (p *Projector) ProjectTable(ctx context.Context, userID, connectionID string, table schema.TableMetadata) (AccessibleTable, error) {
	tableFlags, err := p.flagsFor(ctx, userID, connectionID, table.SchemaName, table.TableName, "")
	if err != nil {
		return AccessibleTable{}, fmt.Errorf("project table %s.%s: %w", table.SchemaName, table.TableName, err)
	}

	projected := AccessibleTable{
		SchemaName:      table.SchemaName,
		TableName:       table.TableName,
		TableType:       table.TableType,
		Comment:         table.Comment,
		IsSystem:        table.IsSystem,
		CapabilityFlags: tableFlags,
		Columns:         make([]AccessibleColumn, 0, len(table.Columns)),
	}

	for _, col := range table.Columns {
		colFlags, err := p.flagsFor(ctx, userID, connectionID, table.SchemaName, table.TableName, col.Name)
		if err != nil {
			return AccessibleTable{}, fmt.Errorf("project column %s.%s.%s: %w", table.SchemaName, table.TableName, col.Name, err)
		}

		projected.Columns = append(projected.Columns, AccessibleColumn{
			ColumnMetadata:  col,
			CapabilityFlags: colFlags,
			CanModifyData:   colFlags.CanRead && colFlags.CanWrite,
			CanPerformCrud:  colFlags.CanRead && colFlags.CanWrite && colFlags.CanDelete,
		})
	}

	return projected, nil
}

func (p *Projector) flagsFor(ctx context.Context, userID, connectionID, schemaName, tableName, columnName string) (CapabilityFlags, error) {
	var flags CapabilityFlags

	for _, pType := range AllTypes {
		decision, err := p.resolver.Resolve(ctx, Request{
			UserID:       userID,
			ConnectionID: connectionID,
			Type:         pType,
			SchemaName:   schemaName,
			TableName:    tableName,
			ColumnName:   columnName,
		})
		if err != nil {
			return CapabilityFlags{}, err
		}

		switch pType {
		case TypeRead:
			flags.CanRead = decision.Granted
		case TypeWrite:
			flags.CanWrite = decision.Granted
		case TypeDelete:
			flags.CanDelete = decision.Granted
		case TypeAdmin:
			flags.CanAdmin = decision.Granted
		}
	}
	return flags, nil
}

package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nateliu28/querydeck/internal/database"
	"github.com/nateliu28/querydeck/internal/models"
)

var systemPrefixes = []string{"sqlite_", "pg_", "information_schema", "mysql.", "performance_schema"}

// Crawl introspects a target database and returns its table metadata. The
// handle is opened for the crawl and closed before returning; the gateway
// keeps its own long-lived pools.
func Crawl(conn *models.DBConnection) ([]TableMetadata, error) {
	if conn == nil {
		return nil, fmt.Errorf("schema crawl: connection is required")
	}

	db, err := database.Open(database.Config{Driver: conn.Driver, DSN: conn.DSN})
	if err != nil {
		return nil, fmt.Errorf("schema crawl: open %s: %w", conn.Name, err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	names, err := db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("schema crawl: list tables: %w", err)
	}
	sort.Strings(names)

	schemaName := defaultSchemaName(conn)
	tables := make([]TableMetadata, 0, len(names))

	for _, name := range names {
		columnTypes, err := db.Migrator().ColumnTypes(name)
		if err != nil {
			return nil, fmt.Errorf("schema crawl: describe %s: %w", name, err)
		}

		table := TableMetadata{
			SchemaName: schemaName,
			TableName:  name,
			TableType:  "BASE TABLE",
			IsSystem:   isSystemTable(name),
		}
		for i, ct := range columnTypes {
			col := ColumnMetadata{
				Name:     ct.Name(),
				DataType: ct.DatabaseTypeName(),
				Ordinal:  i,
			}
			if nullable, ok := ct.Nullable(); ok {
				col.Nullable = nullable
			}
			if pk, ok := ct.PrimaryKey(); ok {
				col.PrimaryKey = pk
			}
			if auto, ok := ct.AutoIncrement(); ok {
				col.AutoInc = auto
			}
			if length, ok := ct.Length(); ok {
				col.Size = int(length)
			}
			if comment, ok := ct.Comment(); ok {
				col.Comment = comment
			}
			table.Columns = append(table.Columns, col)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func defaultSchemaName(conn *models.DBConnection) string {
	if conn.DefaultSchema != "" {
		return conn.DefaultSchema
	}
	switch strings.ToLower(conn.Driver) {
	case "sqlite":
		return "main"
	case "mysql":
		return conn.Name
	default:
		return "public"
	}
}

func isSystemTable(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

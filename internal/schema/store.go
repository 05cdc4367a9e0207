package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
	apperrors "github.com/nateliu28/querydeck/pkg/errors"
)

// ErrTableNotFound indicates the requested table has no metadata snapshot.
var ErrTableNotFound = apperrors.ErrNotFound

// SnapshotStore implements Provider over persisted metadata rows.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore constructs a SnapshotStore using the provided database handle.
func NewSnapshotStore(db *gorm.DB) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("schema store: db is required")
	}
	return &SnapshotStore{db: db}, nil
}

// GetTables returns all table metadata recorded for the connection, ordered
// by schema then table name.
func (s *SnapshotStore) GetTables(ctx context.Context, connectionID string) ([]TableMetadata, error) {
	var rows []models.SchemaTable
	if err := s.db.WithContext(ctx).
		Preload("Columns", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordinal ASC")
		}).
		Where("connection_id = ?", connectionID).
		Order("schema_name ASC, table_name ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("schema store: list tables: %w", err)
	}

	tables := make([]TableMetadata, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, toMetadata(row))
	}
	return tables, nil
}

// GetTable returns metadata for one table of the connection.
func (s *SnapshotStore) GetTable(ctx context.Context, connectionID, schemaName, tableName string) (TableMetadata, error) {
	var row models.SchemaTable
	err := s.db.WithContext(ctx).
		Preload("Columns", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordinal ASC")
		}).
		Where("connection_id = ? AND schema_name = ? AND table_name = ?", connectionID, schemaName, tableName).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TableMetadata{}, ErrTableNotFound
	}
	if err != nil {
		return TableMetadata{}, fmt.Errorf("schema store: load table: %w", err)
	}
	return toMetadata(row), nil
}

// ReplaceSnapshot swaps the stored metadata for a connection with a fresh
// crawl result in one transaction.
func (s *SnapshotStore) ReplaceSnapshot(ctx context.Context, connectionID string, tables []TableMetadata) error {
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_id = ?", connectionID).Delete(&models.SchemaColumn{}).Error; err != nil {
			return fmt.Errorf("schema store: clear columns: %w", err)
		}
		if err := tx.Where("connection_id = ?", connectionID).Delete(&models.SchemaTable{}).Error; err != nil {
			return fmt.Errorf("schema store: clear tables: %w", err)
		}

		for _, table := range tables {
			row := models.SchemaTable{
				ConnectionID: connectionID,
				SchemaName:   table.SchemaName,
				TableName:    table.TableName,
				TableType:    table.TableType,
				Comment:      table.Comment,
				IsSystem:     table.IsSystem,
				CrawledAt:    &now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("schema store: insert table: %w", err)
			}

			cols := make([]models.SchemaColumn, 0, len(table.Columns))
			for _, col := range table.Columns {
				cols = append(cols, models.SchemaColumn{
					TableID:      row.ID,
					ConnectionID: connectionID,
					ColumnName:   col.Name,
					DataType:     col.DataType,
					Size:         col.Size,
					Nullable:     col.Nullable,
					PrimaryKey:   col.PrimaryKey,
					AutoInc:      col.AutoInc,
					Comment:      col.Comment,
					Ordinal:      col.Ordinal,
				})
			}
			if len(cols) > 0 {
				if err := tx.Create(&cols).Error; err != nil {
					return fmt.Errorf("schema store: insert columns: %w", err)
				}
			}
		}
		return nil
	})
}

func toMetadata(row models.SchemaTable) TableMetadata {
	table := TableMetadata{
		SchemaName: row.SchemaName,
		TableName:  row.TableName,
		TableType:  row.TableType,
		Comment:    row.Comment,
		IsSystem:   row.IsSystem,
	}

	cols := append([]models.SchemaColumn(nil), row.Columns...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Ordinal < cols[j].Ordinal })

	for _, col := range cols {
		table.Columns = append(table.Columns, ColumnMetadata{
			Name:       col.ColumnName,
			DataType:   col.DataType,
			Size:       col.Size,
			Nullable:   col.Nullable,
			PrimaryKey: col.PrimaryKey,
			AutoInc:    col.AutoInc,
			Comment:    col.Comment,
			Ordinal:    col.Ordinal,
		})
	}
	return table
}

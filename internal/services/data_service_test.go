package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/database"
	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/internal/query"
	"github.com/nateliu28/querydeck/internal/schema"
)

const browsingUserID = "55555555-5555-5555-5555-555555555555"

type dataFixture struct {
	svc    *DataService
	db     *gorm.DB
	target *gorm.DB
	connID string
}

// newDataFixture wires the full read/write path: an application store with
// grants and schema snapshots, plus a live SQLite target reached through the
// gateway.
func newDataFixture(t *testing.T) *dataFixture {
	t.Helper()
	ctx := context.Background()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	targetDSN := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	target, err := database.Open(database.Config{Driver: "sqlite", DSN: targetDSN})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := target.DB()
		require.NoError(t, err)
		_ = sqlDB.Close()
	})
	require.NoError(t, target.Exec(`CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, salary INTEGER)`).Error)
	require.NoError(t, target.Exec(`INSERT INTO employees (id, name, salary) VALUES (1, 'alice', 90), (2, 'bob', 80)`).Error)

	connSvc, err := NewConnectionService(db, nil, nil, nil)
	require.NoError(t, err)
	conn, err := connSvc.Create(ctx, ConnectionInput{
		Name:          "target",
		Driver:        "sqlite",
		DSN:           targetDSN,
		DefaultSchema: "main",
	}, "owner-id")
	require.NoError(t, err)

	snapshots, err := schema.NewSnapshotStore(db)
	require.NoError(t, err)
	require.NoError(t, snapshots.ReplaceSnapshot(ctx, conn.ID, []schema.TableMetadata{{
		SchemaName: "main",
		TableName:  "employees",
		Columns: []schema.ColumnMetadata{
			{Name: "id", DataType: "INTEGER", Ordinal: 0, PrimaryKey: true},
			{Name: "name", DataType: "TEXT", Ordinal: 1},
			{Name: "salary", DataType: "INTEGER", Ordinal: 2},
		},
	}}))

	store, err := permissions.NewGrantStore(db)
	require.NoError(t, err)
	resolver, err := permissions.NewResolver(store, nil)
	require.NoError(t, err)
	projector, err := permissions.NewProjector(resolver)
	require.NoError(t, err)
	filter, err := query.NewFilter(resolver, store)
	require.NoError(t, err)
	gateway, err := query.NewGateway(connSvc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gateway.Close() })

	svc, err := NewDataService(connSvc, snapshots, projector, filter, gateway, nil)
	require.NoError(t, err)

	return &dataFixture{svc: svc, db: db, target: target, connID: conn.ID}
}

func (f *dataFixture) seedGrant(t *testing.T, scope, pType, schemaName, tableName, columnName string, granted bool) {
	t.Helper()
	grant := models.PermissionGrant{
		UserID:         browsingUserID,
		ConnectionID:   f.connID,
		Scope:          scope,
		PermissionType: pType,
		SchemaName:     schemaName,
		TableName:      tableName,
		ColumnName:     columnName,
		Granted:        granted,
		GrantedAt:      time.Now().Add(-time.Minute),
	}
	require.NoError(t, f.db.Create(&grant).Error)
}

func TestDataServiceBrowseExcludesDeniedColumns(t *testing.T) {
	f := newDataFixture(t)
	f.seedGrant(t, "table", "read", "main", "employees", "", true)
	f.seedGrant(t, "column", "read", "main", "employees", "salary", false)

	page, err := f.svc.BrowseRows(context.Background(), browsingUserID, f.connID,
		"main", "employees", nil, []query.SortOrder{{Column: "id"}}, query.Page{Number: 0, Size: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, page.Columns)
	assert.EqualValues(t, 2, page.TotalRecords)
	require.Len(t, page.Rows, 2)
	assert.NotContains(t, page.Rows[0], "salary")
	assert.Equal(t, "alice", page.Rows[0]["name"])
}

func TestDataServiceBrowseWithoutReadGrant(t *testing.T) {
	f := newDataFixture(t)

	_, err := f.svc.BrowseRows(context.Background(), browsingUserID, f.connID,
		"main", "employees", nil, nil, query.Page{Size: 10})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 403, appErr.StatusCode)
}

func TestDataServiceListTablesIncludesUnreadableMetadata(t *testing.T) {
	f := newDataFixture(t)

	tables, err := f.svc.ListTables(context.Background(), browsingUserID, f.connID)
	require.NoError(t, err)
	require.Len(t, tables, 1, "metadata stays visible without grants")
	assert.False(t, tables[0].CanRead)
	assert.Len(t, tables[0].Columns, 3)
}

func TestDataServiceInsertDropsWriteDeniedColumns(t *testing.T) {
	f := newDataFixture(t)
	f.seedGrant(t, "table", "read", "main", "employees", "", true)
	f.seedGrant(t, "table", "write", "main", "employees", "", true)
	f.seedGrant(t, "column", "write", "main", "employees", "salary", false)

	result, err := f.svc.InsertRow(context.Background(), browsingUserID, f.connID,
		"main", "employees", map[string]any{"id": 3, "name": "carol", "salary": 999})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.RowsAffected)

	var salary sql.NullInt64
	require.NoError(t, f.target.Raw("SELECT salary FROM employees WHERE id = 3").Scan(&salary).Error)
	assert.False(t, salary.Valid, "write-denied column falls back to its default")
}

func TestDataServiceExecuteSQL(t *testing.T) {
	f := newDataFixture(t)
	f.seedGrant(t, "table", "read", "main", "employees", "", true)
	f.seedGrant(t, "column", "read", "main", "employees", "salary", false)

	ctx := context.Background()

	t.Run("permitted statement runs", func(t *testing.T) {
		outcome, err := f.svc.ExecuteSQL(ctx, browsingUserID, f.connID, "SELECT name FROM employees ORDER BY id")
		require.NoError(t, err)
		assert.True(t, outcome.Verdict.Allowed)
		require.NotNil(t, outcome.Result)
		assert.Len(t, outcome.Result.Rows, 2)
	})

	t.Run("denied column is rejected", func(t *testing.T) {
		_, err := f.svc.ExecuteSQL(ctx, browsingUserID, f.connID, "SELECT salary FROM employees")
		assert.ErrorIs(t, err, apperrors.ErrSQLRejected)
	})

	t.Run("wildcard blocked by column deny", func(t *testing.T) {
		_, err := f.svc.ExecuteSQL(ctx, browsingUserID, f.connID, "SELECT * FROM employees")
		assert.ErrorIs(t, err, apperrors.ErrSQLRejected)
	})

	t.Run("unparsable statement is rejected", func(t *testing.T) {
		_, err := f.svc.ExecuteSQL(ctx, browsingUserID, f.connID, "DEFINITELY NOT SQL")
		assert.ErrorIs(t, err, apperrors.ErrSQLRejected)
	})

	t.Run("delete without delete grant is rejected", func(t *testing.T) {
		_, err := f.svc.ExecuteSQL(ctx, browsingUserID, f.connID, "DELETE FROM employees WHERE id = 1")
		assert.ErrorIs(t, err, apperrors.ErrSQLRejected)
	})
}

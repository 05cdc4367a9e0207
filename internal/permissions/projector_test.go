package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nateliu28/querydeck/internal/schema"
)

func usersTableMetadata() schema.TableMetadata {
	return schema.TableMetadata{
		SchemaName: "public",
		TableName:  "users",
		Columns: []schema.ColumnMetadata{
			{Name: "id", DataType: "integer", PrimaryKey: true, Ordinal: 1},
			{Name: "email", DataType: "varchar", Ordinal: 2},
			{Name: "name", DataType: "varchar", Ordinal: 3},
		},
	}
}

func TestProjectorCapabilityFlags(t *testing.T) {
	db, resolver := newTestResolver(t)
	projector, err := NewProjector(resolver)
	require.NoError(t, err)

	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeWrite, schema: "public", table: "users", granted: true})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeRead, schema: "public", table: "users", column: "email", granted: false})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeWrite, schema: "public", table: "users", column: "email", granted: false})

	tables, err := projector.Project(context.Background(), "u1", "c1", []schema.TableMetadata{usersTableMetadata()})
	require.NoError(t, err)
	require.Len(t, tables, 1)

	table := tables[0]
	require.True(t, table.CanRead)
	require.True(t, table.CanWrite)
	require.False(t, table.CanDelete)
	require.False(t, table.CanAdmin)

	id, ok := table.Column("id")
	require.True(t, ok)
	require.True(t, id.CanRead)
	require.True(t, id.CanModifyData)
	require.False(t, id.CanPerformCrud) // no delete grant

	email, ok := table.Column("email")
	require.True(t, ok)
	require.False(t, email.CanRead)
	require.False(t, email.CanModifyData)

	require.Equal(t, []string{"id", "name"}, table.ReadableColumns())
}

func TestProjectorListsUnreadableTables(t *testing.T) {
	_, resolver := newTestResolver(t)
	projector, err := NewProjector(resolver)
	require.NoError(t, err)

	tables, err := projector.Project(context.Background(), "u1", "c1", []schema.TableMetadata{usersTableMetadata()})
	require.NoError(t, err)
	require.Len(t, tables, 1)

	// Metadata visibility is independent of content-read permission.
	table := tables[0]
	require.False(t, table.CanRead)
	require.Len(t, table.Columns, 3)
	require.Empty(t, table.ReadableColumns())
}

func TestProjectorUsesCachedDecisions(t *testing.T) {
	db, resolver := newTestResolver(t)
	cached, err := NewCachedResolver(resolver, NewDecisionCache(CacheConfig{}))
	require.NoError(t, err)
	projector, err := NewProjector(cached)
	require.NoError(t, err)

	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	ctx := context.Background()
	_, err = projector.Project(ctx, "u1", "c1", []schema.TableMetadata{usersTableMetadata()})
	require.NoError(t, err)
	_, err = projector.Project(ctx, "u1", "c1", []schema.TableMetadata{usersTableMetadata()})
	require.NoError(t, err)

	stats := cached.Cache().Stats()
	total := stats[RegionTable].Hits + stats[RegionColumn].Hits + stats[RegionDelete].Hits
	require.NotZero(t, total, "second projection should hit the cache")
}

package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/models"
)

func newTestResolver(t *testing.T) (*gorm.DB, *Resolver) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)
	resolver, err := NewResolver(store, nil)
	require.NoError(t, err)
	return db, resolver
}

type grantSpec struct {
	scope   Scope
	pType   PermissionType
	schema  string
	table   string
	column  string
	granted bool
	expires *time.Time
}

// seedConnection satisfies the grant-to-connection foreign key for fixtures
// that reference connections by bare id.
func seedConnection(t *testing.T, db *gorm.DB, id string) {
	t.Helper()

	conn := models.DBConnection{
		BaseModel: models.BaseModel{ID: id},
		Name:      id,
		Driver:    "sqlite",
		DSN:       "file::memory:",
		IsActive:  true,
	}
	require.NoError(t, db.Where("id = ?", id).FirstOrCreate(&conn).Error)
}

func seedGrant(t *testing.T, db *gorm.DB, userID, connID string, spec grantSpec) models.PermissionGrant {
	t.Helper()

	seedConnection(t, db, connID)
	grant := models.PermissionGrant{
		UserID:         userID,
		ConnectionID:   connID,
		Scope:          string(spec.scope),
		PermissionType: string(spec.pType),
		SchemaName:     spec.schema,
		TableName:      spec.table,
		ColumnName:     spec.column,
		Granted:        spec.granted,
		GrantedAt:      time.Now().Add(-time.Minute),
		ExpiresAt:      spec.expires,
	}
	require.NoError(t, ValidateGrantCoordinates(&grant))
	require.NoError(t, db.Create(&grant).Error)
	return grant
}

func readReq(user, conn, schemaName, table, column string) Request {
	return Request{
		UserID:       user,
		ConnectionID: conn,
		Type:         TypeRead,
		SchemaName:   schemaName,
		TableName:    table,
		ColumnName:   column,
	}
}

func TestResolveDefaultDeny(t *testing.T) {
	_, resolver := newTestResolver(t)

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", ""))
	require.NoError(t, err)
	require.False(t, decision.Granted)
	require.Equal(t, "no active grant", decision.Reason)
}

func TestResolveColumnFallsBackToTable(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "email"))
	require.NoError(t, err)
	require.True(t, decision.Granted)
	require.Equal(t, ScopeTable, decision.Scope)
}

func TestResolveMostSpecificDenyWins(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeRead, schema: "public", table: "users", column: "email", granted: false})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "email"))
	require.NoError(t, err)
	require.False(t, decision.Granted)
	require.Equal(t, ScopeColumn, decision.Scope)

	// A sibling column without its own grant still falls back to the allow.
	decision, err = resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "name"))
	require.NoError(t, err)
	require.True(t, decision.Granted)
}

func TestResolveMostSpecificAllowWinsOverBroadDeny(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: false})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeRead, schema: "public", table: "users", column: "id", granted: true})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "id"))
	require.NoError(t, err)
	require.True(t, decision.Granted)
	require.Equal(t, ScopeColumn, decision.Scope)
}

func TestResolveSchemaAndConnectionFallback(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeConnection, pType: TypeRead, granted: true})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "email"))
	require.NoError(t, err)
	require.True(t, decision.Granted)
	require.Equal(t, ScopeConnection, decision.Scope)

	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeSchema, pType: TypeRead, schema: "public", granted: false})

	decision, err = resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "email"))
	require.NoError(t, err)
	require.False(t, decision.Granted)
	require.Equal(t, ScopeSchema, decision.Scope)
}

func TestResolveExpiredGrantsAreInvisible(t *testing.T) {
	db, resolver := newTestResolver(t)
	past := time.Now().Add(-time.Hour)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true, expires: &past})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", ""))
	require.NoError(t, err)
	require.False(t, decision.Granted)
	require.Equal(t, "no active grant", decision.Reason)
}

func TestResolveExpiredDenyDoesNotShadowAllow(t *testing.T) {
	db, resolver := newTestResolver(t)
	past := time.Now().Add(-time.Hour)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeRead, schema: "public", table: "users", column: "email", granted: false, expires: &past})
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	decision, err := resolver.Resolve(context.Background(), readReq("u1", "c1", "public", "users", "email"))
	require.NoError(t, err)
	require.True(t, decision.Granted)
	require.Equal(t, ScopeTable, decision.Scope)
}

func TestResolveIsDeterministic(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	req := readReq("u1", "c1", "public", "users", "email")
	first, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, first.Granted, second.Granted)
	require.Equal(t, first.Scope, second.Scope)
	require.Equal(t, first.Reason, second.Reason)
}

func TestResolveTypesAreIndependent(t *testing.T) {
	db, resolver := newTestResolver(t)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true})

	req := readReq("u1", "c1", "public", "users", "")
	req.Type = TypeWrite

	decision, err := resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, decision.Granted)
}

func TestResolveRejectsMalformedCoordinates(t *testing.T) {
	_, resolver := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), Request{
		UserID:       "u1",
		ConnectionID: "c1",
		Type:         TypeRead,
		ColumnName:   "email", // column without table
	})
	require.ErrorIs(t, err, ErrInvalidCoordinates)

	_, err = resolver.Resolve(context.Background(), Request{
		UserID:       "u1",
		ConnectionID: "c1",
		Type:         PermissionType("exec"),
	})
	require.ErrorIs(t, err, ErrInvalidCoordinates)
}

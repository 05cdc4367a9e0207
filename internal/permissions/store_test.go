package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/models"
)

func tableGrant(granted bool) *models.PermissionGrant {
	return &models.PermissionGrant{
		UserID:         "u1",
		ConnectionID:   "c1",
		Scope:          string(ScopeTable),
		PermissionType: string(TypeRead),
		SchemaName:     "public",
		TableName:      "users",
		Granted:        granted,
	}
}

func TestCreateGrantRejectsDuplicateActiveTuple(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)
	seedConnection(t, db, "c1")

	ctx := context.Background()
	require.NoError(t, store.CreateGrant(ctx, tableGrant(true), false))

	err = store.CreateGrant(ctx, tableGrant(true), false)
	require.ErrorIs(t, err, ErrDuplicateGrant)
}

func TestCreateGrantOverwriteUpdatesInPlace(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)
	seedConnection(t, db, "c1")

	ctx := context.Background()
	first := tableGrant(true)
	require.NoError(t, store.CreateGrant(ctx, first, false))

	second := tableGrant(false)
	second.Comment = "revoked pending review"
	require.NoError(t, store.CreateGrant(ctx, second, true))
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.PermissionGrant{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var stored models.PermissionGrant
	require.NoError(t, db.First(&stored, "id = ?", first.ID).Error)
	require.False(t, stored.Granted)
	require.Equal(t, "revoked pending review", stored.Comment)
}

func TestCreateGrantValidatesCoordinates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)

	grant := tableGrant(true)
	grant.Scope = string(ScopeColumn) // column scope without a column name
	err = store.CreateGrant(context.Background(), grant, false)
	require.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestRevokeFlipsToExplicitDeny(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)
	seedConnection(t, db, "c1")

	ctx := context.Background()
	grant := tableGrant(true)
	require.NoError(t, store.CreateGrant(ctx, grant, false))

	revoked, err := store.Revoke(ctx, grant.ID, "admin-1")
	require.NoError(t, err)
	require.False(t, revoked.Granted)
	require.Equal(t, "admin-1", revoked.GrantedByID)

	_, err = store.Revoke(ctx, "missing-id", "admin-1")
	require.ErrorIs(t, err, ErrGrantNotFound)
}

func TestDeactivateExpiredReportsTouchedPairs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeTable, pType: TypeRead, schema: "public", table: "users", granted: true, expires: &past})
	seedGrant(t, db, "u2", "c2", grantSpec{scope: ScopeConnection, pType: TypeRead, granted: true, expires: &future})

	pairs, err := store.DeactivateExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, []ExpiredPair{{UserID: "u1", ConnectionID: "c1"}}, pairs)

	var stored models.PermissionGrant
	require.NoError(t, db.First(&stored, "user_id = ?", "u1").Error)
	require.False(t, stored.Granted)

	stored = models.PermissionGrant{}
	require.NoError(t, db.First(&stored, "user_id = ?", "u2").Error)
	require.True(t, stored.Granted)
}

func TestHasActiveColumnDeny(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	deny, err := store.HasActiveColumnDeny(ctx, "u1", "c1", TypeRead, "public", "users")
	require.NoError(t, err)
	require.False(t, deny)

	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeColumn, pType: TypeRead, schema: "public", table: "users", column: "email", granted: false})

	deny, err = store.HasActiveColumnDeny(ctx, "u1", "c1", TypeRead, "public", "users")
	require.NoError(t, err)
	require.True(t, deny)
}

func TestPurgeConnection(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewGrantStore(db)
	require.NoError(t, err)

	seedGrant(t, db, "u1", "c1", grantSpec{scope: ScopeConnection, pType: TypeRead, granted: true})
	seedGrant(t, db, "u1", "c2", grantSpec{scope: ScopeConnection, pType: TypeRead, granted: true})

	removed, err := store.PurgeConnection(context.Background(), "c1")
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.PermissionGrant{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

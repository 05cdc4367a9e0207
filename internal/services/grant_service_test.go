package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/permissions"
)

type recordingCacheInvalidator struct {
	pairs [][2]string
}

func (r *recordingCacheInvalidator) InvalidateUserConnection(userID, connectionID string) {
	r.pairs = append(r.pairs, [2]string{userID, connectionID})
}

func newGrantService(t *testing.T) (*GrantService, *recordingCacheInvalidator) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	seedTestConnection(t, db, "conn-1")
	store, err := permissions.NewGrantStore(db)
	require.NoError(t, err)
	cache := &recordingCacheInvalidator{}
	svc, err := NewGrantService(store, cache, nil)
	require.NoError(t, err)
	return svc, cache
}

func tableGrantInput() GrantInput {
	return GrantInput{
		UserID:         "44444444-4444-4444-4444-444444444444",
		ConnectionID:   "conn-1",
		Scope:          "table",
		PermissionType: "read",
		SchemaName:     "public",
		TableName:      "orders",
	}
}

func TestGrantServiceCreateInvalidatesCache(t *testing.T) {
	svc, cache := newGrantService(t)

	grant, err := svc.Create(context.Background(), tableGrantInput(), "admin-id")
	require.NoError(t, err)

	assert.True(t, grant.Granted, "grants default to allow")
	assert.Equal(t, "admin-id", grant.GrantedByID)
	assert.Equal(t, [][2]string{{grant.UserID, "conn-1"}}, cache.pairs)
}

func TestGrantServiceCreateValidation(t *testing.T) {
	svc, _ := newGrantService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	input := tableGrantInput()
	input.ExpiresAt = &past
	_, err := svc.Create(ctx, input, "admin-id")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.StatusCode)

	bad := tableGrantInput()
	bad.Scope = "column" // column scope without a column name
	_, err = svc.Create(ctx, bad, "admin-id")
	require.ErrorAs(t, err, &appErr)
}

func TestGrantServiceCreateDuplicateAndOverwrite(t *testing.T) {
	svc, _ := newGrantService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, tableGrantInput(), "admin-id")
	require.NoError(t, err)

	_, err = svc.Create(ctx, tableGrantInput(), "admin-id")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr, "duplicate tuple without overwrite is rejected")

	overwrite := tableGrantInput()
	overwrite.Overwrite = true
	overwrite.Comment = "refreshed"
	updated, err := svc.Create(ctx, overwrite, "admin-id")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", updated.Comment)

	grants, err := svc.ListForUser(ctx, overwrite.UserID, overwrite.ConnectionID)
	require.NoError(t, err)
	assert.Len(t, grants, 1, "overwrite updates in place")
}

func TestGrantServiceRevoke(t *testing.T) {
	svc, cache := newGrantService(t)
	ctx := context.Background()

	grant, err := svc.Create(ctx, tableGrantInput(), "admin-id")
	require.NoError(t, err)
	cache.pairs = nil

	revoked, err := svc.Revoke(ctx, grant.ID, "admin-id")
	require.NoError(t, err)
	assert.False(t, revoked.Granted, "revocation becomes an explicit deny")
	assert.Len(t, cache.pairs, 1)

	_, err = svc.Revoke(ctx, "ghost", "admin-id")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

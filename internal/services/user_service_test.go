package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/database/testutil"
	"github.com/nateliu28/querydeck/internal/models"
)

func newUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db, nil)
	require.NoError(t, err)
	return svc, db
}

func TestUserServiceCreateHashesPassword(t *testing.T) {
	svc, _ := newUserService(t)

	user, err := svc.Create(context.Background(), CreateUserInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.IsApproved, "new users start unapproved")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("s3cret-pass")))
}

func TestUserServiceCreateRejectsDuplicates(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateUserInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateUserInput{Username: "alice", Email: "other@example.com", Password: "s3cret-pass"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.StatusCode)
}

func TestUserServiceApprove(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, CreateUserInput{Username: "alice", Email: "alice@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)

	require.NoError(t, svc.Approve(ctx, user.ID, "admin-id"))

	reloaded, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.IsApproved)

	err = svc.Approve(ctx, "ghost", "admin-id")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserServiceFindActiveUsers(t *testing.T) {
	svc, db := newUserService(t)
	ctx := context.Background()

	seed := []models.User{
		{Username: "active", Email: "active@example.com", Password: "x", IsActive: true, IsApproved: true},
		{Username: "pending", Email: "pending@example.com", Password: "x", IsActive: true, IsApproved: false},
		{Username: "disabled", Email: "disabled@example.com", Password: "x", IsActive: false, IsApproved: true},
		{Username: "root", Email: "root@example.com", Password: "x", IsActive: true, IsApproved: true, IsRoot: true},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	users, err := svc.FindActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "active@example.com", users[0].Email)
}

func TestUserServiceFindUsersByEmail(t *testing.T) {
	svc, db := newUserService(t)
	ctx := context.Background()

	user := models.User{Username: "alice", Email: "alice@example.com", Password: "x", IsActive: true, IsApproved: true}
	require.NoError(t, db.Create(&user).Error)

	users, err := svc.FindUsersByEmail(ctx, []string{" Alice@Example.com ", "missing@example.com", ""})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, user.ID, users[0].ID)

	users, err = svc.FindUsersByEmail(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/models"
)

// CreateUserInput carries the fields accepted when registering a user.
type CreateUserInput struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserService manages platform users and serves as the directory for bulk
// grant targeting.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, audit *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit}, nil
}

// Create registers a new user. New accounts start unapproved; an admin
// approves them before they can hold grants.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := models.User{
		Username:  strings.TrimSpace(input.Username),
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		Password:  string(hashed),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		IsActive:  true,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("Username or email already in use")
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return &user, nil
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// GetByUsername returns a user by username, for credential checks.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "username = ?", strings.TrimSpace(username)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user by username: %w", err)
	}
	return &user, nil
}

// Authenticate verifies credentials and returns the matching user. Every
// failure mode collapses to ErrUnauthorized so responses cannot be used to
// probe for accounts.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperrors.ErrUnauthorized
	}
	if !user.IsActive || (!user.IsApproved && !user.IsRoot) {
		return nil, apperrors.ErrUnauthorized
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(user).Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// List returns all users ordered by username.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)

	var users []models.User
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list users: %w", err)
	}
	return users, nil
}

// Approve marks a user approved so grants can target them.
func (s *UserService) Approve(ctx context.Context, userID, approvedByID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_approved", true)
	if result.Error != nil {
		return fmt.Errorf("user service: approve user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	actor := approvedByID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   "user.approved",
		Resource: userID,
		Result:   ResultSuccess,
	})
	return nil
}

// FindActiveUsers returns every active, approved, non-root user. Root users
// bypass permission resolution entirely, so bulk targeting skips them.
func (s *UserService) FindActiveUsers(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)

	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND is_approved = ? AND is_root = ?", true, true, false).
		Order("email ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("user service: find active users: %w", err)
	}
	return users, nil
}

// FindUsersByEmail returns the users matching the supplied addresses. The
// caller detects missing addresses by comparing lengths.
func (s *UserService) FindUsersByEmail(ctx context.Context, emails []string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	normalised := normaliseIDs(emails)
	if len(normalised) == 0 {
		return nil, nil
	}
	for i, email := range normalised {
		normalised[i] = strings.ToLower(email)
	}

	var users []models.User
	err := s.db.WithContext(ctx).
		Where("email IN ?", normalised).
		Order("email ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("user service: find users by email: %w", err)
	}
	return users, nil
}

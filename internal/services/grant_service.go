package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/permissions"
)

// GrantInput carries the fields of a single grant or deny.
type GrantInput struct {
	UserID         string     `json:"user_id" validate:"required"`
	ConnectionID   string     `json:"connection_id" validate:"required"`
	Scope          string     `json:"scope" validate:"required"`
	PermissionType string     `json:"permission_type" validate:"required"`
	SchemaName     string     `json:"schema_name"`
	TableName      string     `json:"table_name"`
	ColumnName     string     `json:"column_name"`
	Granted        *bool      `json:"granted"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Comment        string     `json:"comment"`
	Overwrite      bool       `json:"overwrite"`
}

// GrantService mediates grant mutations: persistence through the store,
// cache eviction, and audit trail.
type GrantService struct {
	store *permissions.GrantStore
	cache permissions.CacheInvalidator
	audit *AuditService
	now   func() time.Time
}

// NewGrantService constructs a GrantService.
func NewGrantService(store *permissions.GrantStore, cache permissions.CacheInvalidator, audit *AuditService) (*GrantService, error) {
	if store == nil {
		return nil, errors.New("grant service: store is required")
	}
	return &GrantService{store: store, cache: cache, audit: audit, now: time.Now}, nil
}

// Create persists a grant (or explicit deny) and evicts the target user's
// cached decisions for the connection.
func (s *GrantService) Create(ctx context.Context, input GrantInput, grantedByID string) (*models.PermissionGrant, error) {
	ctx = ensureContext(ctx)

	granted := true
	if input.Granted != nil {
		granted = *input.Granted
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, apperrors.NewBadRequest("Expiry must be in the future")
	}

	grant := models.PermissionGrant{
		UserID:         input.UserID,
		ConnectionID:   input.ConnectionID,
		Scope:          input.Scope,
		PermissionType: input.PermissionType,
		SchemaName:     input.SchemaName,
		TableName:      input.TableName,
		ColumnName:     input.ColumnName,
		Granted:        granted,
		GrantedByID:    grantedByID,
		GrantedAt:      s.now(),
		ExpiresAt:      input.ExpiresAt,
		Comment:        input.Comment,
	}

	if err := s.store.CreateGrant(ctx, &grant, input.Overwrite); err != nil {
		switch {
		case errors.Is(err, permissions.ErrInvalidCoordinates):
			return nil, apperrors.NewBadRequest(err.Error())
		case errors.Is(err, permissions.ErrDuplicateGrant):
			return nil, apperrors.NewBadRequest("An active grant already exists for this target")
		default:
			return nil, fmt.Errorf("grant service: create grant: %w", err)
		}
	}

	if s.cache != nil {
		s.cache.InvalidateUserConnection(grant.UserID, grant.ConnectionID)
	}

	actor := grantedByID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionGrantCreated,
		Resource: resourcePath(grant.ConnectionID, grant.SchemaName, grant.TableName, grant.ColumnName),
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"grant_id":        grant.ID,
			"target_user_id":  grant.UserID,
			"permission_type": grant.PermissionType,
			"scope":           grant.Scope,
			"granted":         grant.Granted,
		},
	})
	return &grant, nil
}

// Revoke turns an active grant into an explicit deny and evicts the affected
// user's cached decisions.
func (s *GrantService) Revoke(ctx context.Context, grantID, revokedByID string) (*models.PermissionGrant, error) {
	ctx = ensureContext(ctx)

	grant, err := s.store.Revoke(ctx, grantID, revokedByID)
	if err != nil {
		if errors.Is(err, permissions.ErrGrantNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("grant service: revoke grant: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateUserConnection(grant.UserID, grant.ConnectionID)
	}

	actor := revokedByID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionGrantRevoked,
		Resource: resourcePath(grant.ConnectionID, grant.SchemaName, grant.TableName, grant.ColumnName),
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"grant_id":       grant.ID,
			"target_user_id": grant.UserID,
		},
	})
	return grant, nil
}

// ListForUser returns the grants held by a user on a connection, active and
// inactive alike so admins can see expirations and denies.
func (s *GrantService) ListForUser(ctx context.Context, userID, connectionID string) ([]models.PermissionGrant, error) {
	ctx = ensureContext(ctx)

	grants, err := s.store.ListForUser(ctx, userID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("grant service: list grants: %w", err)
	}
	return grants, nil
}

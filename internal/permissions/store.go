package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
)

// GrantStore is the writer-of-record for permission grants. The resolver and
// cache only read from it; every mutation funnels through here so the
// active-tuple uniqueness rule holds.
type GrantStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGrantStore constructs a grant store backed by the provided database.
func NewGrantStore(db *gorm.DB) (*GrantStore, error) {
	if db == nil {
		return nil, errors.New("grant store: db is required")
	}
	return &GrantStore{db: db, now: time.Now}, nil
}

// WithClock overrides the store clock. Intended for testing only.
func (s *GrantStore) WithClock(now func() time.Time) *GrantStore {
	if now != nil {
		s.now = now
	}
	return s
}

func activeClause(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("granted_at <= ?", now).
		Where("expires_at IS NULL OR expires_at > ?", now)
}

// Candidates returns every active grant that could decide the request: one
// row per scope level matching the request coordinates exactly. Expired and
// not-yet-effective rows are excluded here, never surfaced as denials.
func (s *GrantStore) Candidates(ctx context.Context, req Request) ([]models.PermissionGrant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	query := s.db.WithContext(ctx).
		Model(&models.PermissionGrant{}).
		Where("user_id = ? AND connection_id = ? AND permission_type = ?",
			req.UserID, req.ConnectionID, string(req.Type))
	query = activeClause(query, now)

	coordinate := s.db.Where("scope = ?", string(ScopeConnection))
	if req.SchemaName != "" {
		coordinate = coordinate.Or("scope = ? AND schema_name = ?", string(ScopeSchema), req.SchemaName)
	}
	if req.TableName != "" {
		coordinate = coordinate.Or("scope = ? AND schema_name = ? AND table_name = ?",
			string(ScopeTable), req.SchemaName, req.TableName)
	}
	if req.ColumnName != "" {
		coordinate = coordinate.Or("scope = ? AND schema_name = ? AND table_name = ? AND column_name = ?",
			string(ScopeColumn), req.SchemaName, req.TableName, req.ColumnName)
	}

	var grants []models.PermissionGrant
	if err := query.Where(coordinate).Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("grant store: load candidates: %w", err)
	}
	return grants, nil
}

// CreateGrant persists a new grant after validating its coordinates and the
// active-tuple uniqueness rule. With overwrite set, an existing active row
// for the tuple is updated in place instead of being rejected.
func (s *GrantStore) CreateGrant(ctx context.Context, grant *models.PermissionGrant, overwrite bool) error {
	if err := ValidateGrantCoordinates(grant); err != nil {
		return err
	}

	now := s.now()
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = now
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findActiveTuple(tx, grant, now)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := tx.Create(grant).Error; err != nil {
				return fmt.Errorf("grant store: create grant: %w", err)
			}
			return nil
		}

		if !overwrite {
			return ErrDuplicateGrant
		}

		updates := map[string]any{
			"granted":       grant.Granted,
			"granted_by_id": grant.GrantedByID,
			"granted_at":    grant.GrantedAt,
			"expires_at":    grant.ExpiresAt,
			"comment":       grant.Comment,
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("grant store: overwrite grant: %w", err)
		}
		grant.ID = existing.ID
		return nil
	})
}

func findActiveTuple(tx *gorm.DB, grant *models.PermissionGrant, now time.Time) (*models.PermissionGrant, error) {
	query := tx.Where(
		"user_id = ? AND connection_id = ? AND scope = ? AND permission_type = ? AND schema_name = ? AND table_name = ? AND column_name = ?",
		grant.UserID, grant.ConnectionID, grant.Scope, grant.PermissionType,
		grant.SchemaName, grant.TableName, grant.ColumnName,
	)
	query = activeClause(query, now)

	var existing models.PermissionGrant
	err := query.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("grant store: check active tuple: %w", err)
	}
	return &existing, nil
}

// Revoke flips a grant to an explicit deny, keeping the row for the audit
// trail. Rows are never physically deleted here.
func (s *GrantStore) Revoke(ctx context.Context, grantID, revokedByID string) (*models.PermissionGrant, error) {
	var grant models.PermissionGrant
	err := s.db.WithContext(ctx).First(&grant, "id = ?", grantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grant store: load grant: %w", err)
	}

	updates := map[string]any{"granted": false}
	if strings.TrimSpace(revokedByID) != "" {
		updates["granted_by_id"] = revokedByID
	}
	if err := s.db.WithContext(ctx).Model(&grant).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("grant store: revoke grant: %w", err)
	}

	grant.Granted = false
	return &grant, nil
}

// ListForUser returns every grant row for the user on the connection,
// including inactive ones, ordered stably for display.
func (s *GrantStore) ListForUser(ctx context.Context, userID, connectionID string) ([]models.PermissionGrant, error) {
	var grants []models.PermissionGrant
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Order("schema_name ASC, table_name ASC, column_name ASC, permission_type ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("grant store: list grants: %w", err)
	}
	return grants, nil
}

// HasActiveColumnDeny reports whether any active column-level deny exists
// under the given table for the permission type. The SQL filter uses this to
// reject star projections that could bypass a column deny.
func (s *GrantStore) HasActiveColumnDeny(ctx context.Context, userID, connectionID string, pType PermissionType, schemaName, tableName string) (bool, error) {
	now := s.now()
	query := s.db.WithContext(ctx).
		Model(&models.PermissionGrant{}).
		Where("user_id = ? AND connection_id = ? AND permission_type = ?", userID, connectionID, string(pType)).
		Where("scope = ? AND schema_name = ? AND table_name = ?", string(ScopeColumn), schemaName, tableName).
		Where("granted = ?", false)
	query = activeClause(query, now)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("grant store: count column denies: %w", err)
	}
	return count > 0, nil
}

// ExpiredPair identifies a (user, connection) pair touched by an expiry sweep.
type ExpiredPair struct {
	UserID       string
	ConnectionID string
}

// DeactivateExpired flips granted=false on allow rows whose expiry has
// passed and returns the affected (user, connection) pairs so callers can
// invalidate cached decisions. Resolution already ignores expired rows; the
// sweep keeps the stored state honest.
func (s *GrantStore) DeactivateExpired(ctx context.Context) ([]ExpiredPair, error) {
	now := s.now()

	var pairs []ExpiredPair
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PermissionGrant{}).
			Distinct("user_id", "connection_id").
			Where("granted = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
			Find(&pairs).Error; err != nil {
			return fmt.Errorf("grant store: list expired pairs: %w", err)
		}
		if len(pairs) == 0 {
			return nil
		}

		return tx.Model(&models.PermissionGrant{}).
			Where("granted = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
			Update("granted", false).Error
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// PurgeConnection removes every grant row for a connection. Used on
// connection teardown and explicit admin purge only.
func (s *GrantStore) PurgeConnection(ctx context.Context, connectionID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Delete(&models.PermissionGrant{})
	if result.Error != nil {
		return 0, fmt.Errorf("grant store: purge connection: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DB exposes the underlying handle for components that need to join a
// transaction the store started.
func (s *GrantStore) DB() *gorm.DB {
	return s.db
}

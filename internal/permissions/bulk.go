package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/schema"
	"github.com/nateliu28/querydeck/pkg/metrics"
)

// UserDirectory resolves bulk target users. Implemented over the local users
// table; registration and approval happen elsewhere.
type UserDirectory interface {
	FindActiveUsers(ctx context.Context) ([]models.User, error)
	FindUsersByEmail(ctx context.Context, emails []string) ([]models.User, error)
}

// CacheInvalidator evicts memoized decisions after grant mutations.
type CacheInvalidator interface {
	InvalidateUserConnection(userID, connectionID string)
}

// TableRef names one table of a connection.
type TableRef struct {
	SchemaName string `json:"schema_name"`
	TableName  string `json:"table_name"`
}

// BulkInput describes one bulk grant operation: a cross product of users,
// tables, and permission types applied in a single transaction.
type BulkInput struct {
	ConnectionID string
	Types        []PermissionType

	// TargetUserEmails selects users explicitly; empty means every active,
	// approved user.
	TargetUserEmails []string

	// TargetTables beats TargetSchemas beats whole-connection targeting.
	TargetTables        []TableRef
	TargetSchemas       []string
	IncludeSystemTables bool

	Overwrite   bool
	Granted     bool
	GrantedByID string
	ExpiresAt   *time.Time
	Comment     string
}

// BulkResult reports what a bulk operation did.
type BulkResult struct {
	ProcessedUsers     int      `json:"processed_users"`
	ProcessedTables    int      `json:"processed_tables"`
	CreatedPermissions int      `json:"created_permissions"`
	SkippedExisting    int      `json:"skipped_existing"`
	Errors             []string `json:"errors,omitempty"`
}

// BulkEngine applies grant sets across user × table combinations atomically.
type BulkEngine struct {
	db          *gorm.DB
	users       UserDirectory
	tables      schema.Provider
	invalidator CacheInvalidator
	now         func() time.Time
}

// NewBulkEngine constructs the engine. The invalidator is optional but
// omitting it means stale cached decisions survive a bulk apply.
func NewBulkEngine(db *gorm.DB, users UserDirectory, tables schema.Provider, invalidator CacheInvalidator) (*BulkEngine, error) {
	if db == nil {
		return nil, errors.New("bulk engine: db is required")
	}
	if users == nil {
		return nil, errors.New("bulk engine: user directory is required")
	}
	if tables == nil {
		return nil, errors.New("bulk engine: schema provider is required")
	}
	return &BulkEngine{
		db:          db,
		users:       users,
		tables:      tables,
		invalidator: invalidator,
		now:         time.Now,
	}, nil
}

// ApplyBulk resolves targets once, then creates one table-scope grant per
// (user × table × type) combination not already covered by an identical
// active grant. The whole batch commits or rolls back together; partial
// application is never left visible.
func (e *BulkEngine) ApplyBulk(ctx context.Context, input BulkInput) (BulkResult, error) {
	var result BulkResult

	if strings.TrimSpace(input.ConnectionID) == "" {
		return result, errors.New("bulk engine: connection id is required")
	}
	if len(input.Types) == 0 {
		return result, errors.New("bulk engine: at least one permission type is required")
	}
	for _, pType := range input.Types {
		if !pType.Valid() {
			return result, fmt.Errorf("%w: unknown permission type %q", ErrInvalidCoordinates, pType)
		}
	}

	targets, err := e.resolveUsers(ctx, input.TargetUserEmails)
	if err != nil {
		return result, err
	}
	tables, err := e.resolveTables(ctx, input)
	if err != nil {
		return result, err
	}

	result.ProcessedUsers = len(targets)
	result.ProcessedTables = len(tables)
	if len(targets) == 0 || len(tables) == 0 {
		return result, nil
	}

	now := e.now()
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, user := range targets {
			for _, table := range tables {
				for _, pType := range input.Types {
					grant := &models.PermissionGrant{
						UserID:         user.ID,
						ConnectionID:   input.ConnectionID,
						Scope:          string(ScopeTable),
						PermissionType: string(pType),
						SchemaName:     table.SchemaName,
						TableName:      table.TableName,
						Granted:        input.Granted,
						GrantedByID:    input.GrantedByID,
						GrantedAt:      now,
						ExpiresAt:      input.ExpiresAt,
						Comment:        input.Comment,
					}
					if err := ValidateGrantCoordinates(grant); err != nil {
						return err
					}

					existing, err := findActiveTuple(tx, grant, now)
					if err != nil {
						return err
					}
					if existing != nil {
						if !input.Overwrite {
							result.SkippedExisting++
							continue
						}
						updates := map[string]any{
							"granted":       grant.Granted,
							"granted_by_id": grant.GrantedByID,
							"granted_at":    grant.GrantedAt,
							"expires_at":    grant.ExpiresAt,
							"comment":       grant.Comment,
						}
						if err := tx.Model(existing).Updates(updates).Error; err != nil {
							return fmt.Errorf("bulk engine: overwrite grant: %w", err)
						}
						result.CreatedPermissions++
						continue
					}

					if err := tx.Create(grant).Error; err != nil {
						return fmt.Errorf("bulk engine: create grant: %w", err)
					}
					result.CreatedPermissions++
				}
			}
		}
		return nil
	})
	if err != nil {
		// Rolled back: report nothing as created.
		result.CreatedPermissions = 0
		result.SkippedExisting = 0
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	metrics.BulkGrants.WithLabelValues("created").Add(float64(result.CreatedPermissions))
	metrics.BulkGrants.WithLabelValues("skipped").Add(float64(result.SkippedExisting))

	e.invalidate(input.ConnectionID, targets)
	return result, nil
}

func (e *BulkEngine) resolveUsers(ctx context.Context, emails []string) ([]models.User, error) {
	cleaned := make([]string, 0, len(emails))
	for _, email := range emails {
		if email = strings.TrimSpace(email); email != "" {
			cleaned = append(cleaned, email)
		}
	}

	if len(cleaned) == 0 {
		users, err := e.users.FindActiveUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("bulk engine: resolve active users: %w", err)
		}
		return users, nil
	}

	users, err := e.users.FindUsersByEmail(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("bulk engine: resolve users by email: %w", err)
	}
	if len(users) != len(cleaned) {
		return nil, fmt.Errorf("bulk engine: %d of %d target users not found", len(cleaned)-len(users), len(cleaned))
	}
	return users, nil
}

func (e *BulkEngine) resolveTables(ctx context.Context, input BulkInput) ([]TableRef, error) {
	if len(input.TargetTables) > 0 {
		return input.TargetTables, nil
	}

	all, err := e.tables.GetTables(ctx, input.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("bulk engine: resolve tables: %w", err)
	}

	wantSchema := make(map[string]struct{}, len(input.TargetSchemas))
	for _, name := range input.TargetSchemas {
		if name = strings.TrimSpace(name); name != "" {
			wantSchema[name] = struct{}{}
		}
	}

	refs := make([]TableRef, 0, len(all))
	for _, table := range all {
		if table.IsSystem && !input.IncludeSystemTables {
			continue
		}
		if len(wantSchema) > 0 {
			if _, ok := wantSchema[table.SchemaName]; !ok {
				continue
			}
		}
		refs = append(refs, TableRef{SchemaName: table.SchemaName, TableName: table.TableName})
	}
	return refs, nil
}

func (e *BulkEngine) invalidate(connectionID string, users []models.User) {
	if e.invalidator == nil {
		return
	}
	for _, user := range users {
		e.invalidator.InvalidateUserConnection(user.ID, connectionID)
	}
}

package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nateliu28/querydeck/internal/models"
)

// ErrTemplateInactive indicates an attempt to apply a deactivated template.
var ErrTemplateInactive = errors.New("permissions: template is inactive")

// ApplyTemplate materializes every item of the template as grants for each
// target user, inside one transaction. Items carry their own scope
// coordinates, so unlike ApplyBulk the grants are not restricted to table
// scope. Existing identical active grants are skipped and counted.
func (e *BulkEngine) ApplyTemplate(ctx context.Context, templateID string, targetEmails []string, appliedByID string, overwrite bool) (BulkResult, error) {
	var result BulkResult

	var template models.PermissionTemplate
	err := e.db.WithContext(ctx).
		Preload("Items").
		First(&template, "id = ?", templateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result, fmt.Errorf("bulk engine: template %s: %w", templateID, ErrGrantNotFound)
	}
	if err != nil {
		return result, fmt.Errorf("bulk engine: load template: %w", err)
	}
	if !template.IsActive {
		return result, ErrTemplateInactive
	}

	targets, err := e.resolveUsers(ctx, targetEmails)
	if err != nil {
		return result, err
	}
	result.ProcessedUsers = len(targets)
	if len(targets) == 0 || len(template.Items) == 0 {
		return result, nil
	}

	now := e.now()
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, user := range targets {
			for _, item := range template.Items {
				grant := grantFromTemplateItem(template.ConnectionID, user.ID, appliedByID, item, now)
				if err := ValidateGrantCoordinates(grant); err != nil {
					return fmt.Errorf("template item %s: %w", item.ID, err)
				}

				existing, err := findActiveTuple(tx, grant, now)
				if err != nil {
					return err
				}
				if existing != nil && !overwrite {
					result.SkippedExisting++
					continue
				}
				if existing != nil {
					updates := map[string]any{
						"granted":       grant.Granted,
						"granted_by_id": grant.GrantedByID,
						"granted_at":    grant.GrantedAt,
						"comment":       grant.Comment,
					}
					if err := tx.Model(existing).Updates(updates).Error; err != nil {
						return fmt.Errorf("bulk engine: overwrite templated grant: %w", err)
					}
					result.CreatedPermissions++
					continue
				}

				if err := tx.Create(grant).Error; err != nil {
					return fmt.Errorf("bulk engine: create templated grant: %w", err)
				}
				result.CreatedPermissions++
			}
		}
		return nil
	})
	if err != nil {
		result.CreatedPermissions = 0
		result.SkippedExisting = 0
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	e.invalidate(template.ConnectionID, targets)
	return result, nil
}

func grantFromTemplateItem(connectionID, userID, appliedByID string, item models.PermissionTemplateItem, now time.Time) *models.PermissionGrant {
	return &models.PermissionGrant{
		UserID:         userID,
		ConnectionID:   connectionID,
		Scope:          item.Scope,
		PermissionType: item.PermissionType,
		SchemaName:     item.SchemaName,
		TableName:      item.TableName,
		ColumnName:     item.ColumnName,
		Granted:        item.Granted,
		GrantedByID:    appliedByID,
		GrantedAt:      now,
		Comment:        item.Comment,
	}
}

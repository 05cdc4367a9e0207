package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/internal/permissions"
)

// TemplateItemInput is one grant definition inside a template payload.
type TemplateItemInput struct {
	Scope          string `json:"scope" validate:"required"`
	PermissionType string `json:"permission_type" validate:"required"`
	SchemaName     string `json:"schema_name"`
	TableName      string `json:"table_name"`
	ColumnName     string `json:"column_name"`
	Granted        bool   `json:"granted"`
	Comment        string `json:"comment"`
}

// TemplateInput carries the writable fields of a template.
type TemplateInput struct {
	ConnectionID string              `json:"connection_id" validate:"required"`
	Name         string              `json:"name" validate:"required,min=1,max=128"`
	Description  string              `json:"description"`
	Items        []TemplateItemInput `json:"items" validate:"required,min=1,dive"`
}

// TemplateService manages reusable grant bundles and their application.
type TemplateService struct {
	db     *gorm.DB
	engine *permissions.BulkEngine
	audit  *AuditService
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *gorm.DB, engine *permissions.BulkEngine, audit *AuditService) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	if engine == nil {
		return nil, errors.New("template service: bulk engine is required")
	}
	return &TemplateService{db: db, engine: engine, audit: audit}, nil
}

// Create stores a template with its items. Item coordinates are validated
// the same way live grants are, so a template can never materialize rows a
// direct grant would reject.
func (s *TemplateService) Create(ctx context.Context, input TemplateInput, createdByID string) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	template := models.PermissionTemplate{
		ConnectionID: input.ConnectionID,
		Name:         strings.TrimSpace(input.Name),
		Description:  strings.TrimSpace(input.Description),
		IsActive:     true,
		CreatedByID:  createdByID,
	}

	for _, item := range input.Items {
		row := models.PermissionTemplateItem{
			Scope:          item.Scope,
			PermissionType: item.PermissionType,
			SchemaName:     item.SchemaName,
			TableName:      item.TableName,
			ColumnName:     item.ColumnName,
			Granted:        item.Granted,
			Comment:        item.Comment,
		}
		if err := permissions.ValidateGrantCoordinates(&models.PermissionGrant{
			UserID:         "template",
			ConnectionID:   input.ConnectionID,
			Scope:          row.Scope,
			PermissionType: row.PermissionType,
			SchemaName:     row.SchemaName,
			TableName:      row.TableName,
			ColumnName:     row.ColumnName,
		}); err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		template.Items = append(template.Items, row)
	}

	if err := s.db.WithContext(ctx).Create(&template).Error; err != nil {
		return nil, fmt.Errorf("template service: create template: %w", err)
	}
	return &template, nil
}

// Get returns a template with its items.
func (s *TemplateService) Get(ctx context.Context, templateID string) (*models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	var template models.PermissionTemplate
	err := s.db.WithContext(ctx).Preload("Items").First(&template, "id = ?", templateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("template service: get template: %w", err)
	}
	return &template, nil
}

// List returns the templates of a connection.
func (s *TemplateService) List(ctx context.Context, connectionID string) ([]models.PermissionTemplate, error) {
	ctx = ensureContext(ctx)

	var templates []models.PermissionTemplate
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("connection_id = ?", connectionID).
		Order("name ASC").
		Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("template service: list templates: %w", err)
	}
	return templates, nil
}

// Deactivate retires a template without deleting its history.
func (s *TemplateService) Deactivate(ctx context.Context, templateID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.PermissionTemplate{}).
		Where("id = ?", templateID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("template service: deactivate template: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Delete removes a template and its items.
func (s *TemplateService) Delete(ctx context.Context, templateID string) error {
	ctx = ensureContext(ctx)

	template, err := s.Get(ctx, templateID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", template.ID).
			Delete(&models.PermissionTemplateItem{}).Error; err != nil {
			return fmt.Errorf("template service: delete items: %w", err)
		}
		if err := tx.Delete(template).Error; err != nil {
			return fmt.Errorf("template service: delete template: %w", err)
		}
		return nil
	})
}

// Apply materializes the template's items across the target users through
// the bulk engine's transaction.
func (s *TemplateService) Apply(ctx context.Context, templateID string, targetEmails []string, appliedByID string, overwrite bool) (permissions.BulkResult, error) {
	ctx = ensureContext(ctx)

	result, err := s.engine.ApplyTemplate(ctx, templateID, normaliseIDs(targetEmails), appliedByID, overwrite)
	if err != nil {
		if errors.Is(err, permissions.ErrTemplateInactive) {
			return permissions.BulkResult{}, apperrors.NewBadRequest("Template is inactive")
		}
		return permissions.BulkResult{}, fmt.Errorf("template service: apply template: %w", err)
	}

	actor := appliedByID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionTemplateApplied,
		Resource: templateID,
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"created": result.CreatedPermissions,
			"skipped": result.SkippedExisting,
			"users":   result.ProcessedUsers,
		},
	})
	return result, nil
}

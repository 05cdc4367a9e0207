package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nateliu28/querydeck/internal/permissions"
)

// BulkService fronts the bulk engine with audit recording.
type BulkService struct {
	engine *permissions.BulkEngine
	audit  *AuditService
}

// NewBulkService constructs a BulkService.
func NewBulkService(engine *permissions.BulkEngine, audit *AuditService) (*BulkService, error) {
	if engine == nil {
		return nil, errors.New("bulk service: engine is required")
	}
	return &BulkService{engine: engine, audit: audit}, nil
}

// Apply runs a bulk grant operation and records the outcome.
func (s *BulkService) Apply(ctx context.Context, input permissions.BulkInput, appliedByID string) (permissions.BulkResult, error) {
	ctx = ensureContext(ctx)

	input.GrantedByID = appliedByID
	result, err := s.engine.ApplyBulk(ctx, input)

	actor := appliedByID
	outcome := ResultSuccess
	if err != nil {
		outcome = ResultFailure
	}
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionBulkApplied,
		Resource: input.ConnectionID,
		Result:   outcome,
		Metadata: map[string]any{
			"created": result.CreatedPermissions,
			"skipped": result.SkippedExisting,
			"users":   result.ProcessedUsers,
			"tables":  result.ProcessedTables,
		},
	})
	if err != nil {
		return permissions.BulkResult{}, fmt.Errorf("bulk service: apply: %w", err)
	}
	return result, nil
}

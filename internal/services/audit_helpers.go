package services

import (
	"context"
	"strings"

	"github.com/nateliu28/querydeck/internal/permissions"
)

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	_ = audit.Log(ctx, entry)
}

// resourcePath renders permission coordinates as a slash path for the audit
// resource column, e.g. "conn-1/public/orders/total".
func resourcePath(connectionID, schemaName, tableName, columnName string) string {
	parts := []string{connectionID}
	for _, part := range []string{schemaName, tableName, columnName} {
		if part == "" {
			break
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "/")
}

// DenialAuditor records denied permission checks. Allowed checks are far too
// frequent to persist individually; they are visible through metrics instead.
type DenialAuditor struct {
	audit *AuditService
}

// NewDenialAuditor constructs the resolver-facing audit adapter.
func NewDenialAuditor(audit *AuditService) *DenialAuditor {
	return &DenialAuditor{audit: audit}
}

// PermissionChecked implements permissions.Auditor.
func (a *DenialAuditor) PermissionChecked(ctx context.Context, req permissions.Request, decision permissions.Decision) {
	if a == nil || a.audit == nil || decision.Granted {
		return
	}

	userID := req.UserID
	recordAudit(a.audit, ctx, AuditEntry{
		UserID:   &userID,
		Action:   ActionPermissionDenied,
		Resource: resourcePath(req.ConnectionID, req.SchemaName, req.TableName, req.ColumnName),
		Result:   ResultDenied,
		Metadata: map[string]any{
			"permission_type": string(req.Type),
			"reason":          decision.Reason,
		},
	})
}

package services

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/nateliu28/querydeck/pkg/errors"

	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/internal/query"
	"github.com/nateliu28/querydeck/internal/schema"
)

// RowPage is a browse result: one page of rows plus the unpaginated total.
type RowPage struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	TotalRecords int64            `json:"total_records"`
	Page         int              `json:"page"`
	PageSize     int              `json:"page_size"`
}

// SQLOutcome is the result of an ad-hoc statement: the filter's verdict and,
// when allowed, the execution result.
type SQLOutcome struct {
	Verdict query.Verdict `json:"verdict"`
	Result  *query.Result `json:"result,omitempty"`
}

// DataService orchestrates permitted data access: schema projection for
// browsing, built statements for structured CRUD, and filtered ad-hoc SQL.
type DataService struct {
	connections *ConnectionService
	provider    schema.Provider
	projector   *permissions.Projector
	filter      *query.Filter
	gateway     *query.Gateway
	audit       *AuditService
}

// NewDataService constructs a DataService.
func NewDataService(
	connections *ConnectionService,
	provider schema.Provider,
	projector *permissions.Projector,
	filter *query.Filter,
	gateway *query.Gateway,
	audit *AuditService,
) (*DataService, error) {
	if connections == nil {
		return nil, errors.New("data service: connection service is required")
	}
	if provider == nil {
		return nil, errors.New("data service: schema provider is required")
	}
	if projector == nil {
		return nil, errors.New("data service: projector is required")
	}
	if filter == nil {
		return nil, errors.New("data service: sql filter is required")
	}
	if gateway == nil {
		return nil, errors.New("data service: gateway is required")
	}
	return &DataService{
		connections: connections,
		provider:    provider,
		projector:   projector,
		filter:      filter,
		gateway:     gateway,
		audit:       audit,
	}, nil
}

// ListTables returns the connection's tables annotated with the user's
// capabilities. Metadata is visible regardless of grants; capability flags
// tell the client what to enable.
func (s *DataService) ListTables(ctx context.Context, userID, connectionID string) ([]permissions.AccessibleTable, error) {
	ctx = ensureContext(ctx)

	tables, err := s.provider.GetTables(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("data service: list tables: %w", err)
	}
	return s.projector.Project(ctx, userID, connectionID, tables)
}

// GetTable returns one table annotated with the user's capabilities.
func (s *DataService) GetTable(ctx context.Context, userID, connectionID, schemaName, tableName string) (permissions.AccessibleTable, error) {
	ctx = ensureContext(ctx)

	table, err := s.provider.GetTable(ctx, connectionID, schemaName, tableName)
	if err != nil {
		return permissions.AccessibleTable{}, err
	}
	return s.projector.ProjectTable(ctx, userID, connectionID, table)
}

// BrowseRows returns one page of rows with only the user's readable columns,
// plus the total matching count for pagination.
func (s *DataService) BrowseRows(ctx context.Context, userID, connectionID, schemaName, tableName string, filters []query.ColumnFilter, sorts []query.SortOrder, page query.Page) (*RowPage, error) {
	ctx = ensureContext(ctx)

	table, err := s.GetTable(ctx, userID, connectionID, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	selectStmt, err := query.BuildSelect(table, filters, sorts, page)
	if err != nil {
		return nil, buildError(err)
	}
	countStmt, err := query.BuildCount(table, filters)
	if err != nil {
		return nil, buildError(err)
	}

	result, err := s.gateway.Query(ctx, connectionID, selectStmt)
	if err != nil {
		return nil, fmt.Errorf("data service: browse rows: %w", err)
	}
	countResult, err := s.gateway.Query(ctx, connectionID, countStmt)
	if err != nil {
		return nil, fmt.Errorf("data service: count rows: %w", err)
	}

	return &RowPage{
		Columns:      result.Columns,
		Rows:         result.Rows,
		TotalRecords: firstCount(countResult),
		Page:         page.Number,
		PageSize:     page.Size,
	}, nil
}

// InsertRow inserts one row. WRITE-denied columns in the payload are
// silently dropped by the builder.
func (s *DataService) InsertRow(ctx context.Context, userID, connectionID, schemaName, tableName string, values map[string]any) (*query.Result, error) {
	ctx = ensureContext(ctx)

	table, err := s.GetTable(ctx, userID, connectionID, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	stmt, err := query.BuildInsert(table, values)
	if err != nil {
		return nil, buildError(err)
	}
	return s.mutate(ctx, userID, connectionID, schemaName, tableName, "insert", stmt)
}

// UpdateRows updates matching rows. WRITE-denied columns in the payload are
// silently dropped by the builder.
func (s *DataService) UpdateRows(ctx context.Context, userID, connectionID, schemaName, tableName string, values map[string]any, filters []query.ColumnFilter) (*query.Result, error) {
	ctx = ensureContext(ctx)

	table, err := s.GetTable(ctx, userID, connectionID, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	stmt, err := query.BuildUpdate(table, values, filters)
	if err != nil {
		return nil, buildError(err)
	}
	return s.mutate(ctx, userID, connectionID, schemaName, tableName, "update", stmt)
}

// DeleteRows deletes matching rows.
func (s *DataService) DeleteRows(ctx context.Context, userID, connectionID, schemaName, tableName string, filters []query.ColumnFilter) (*query.Result, error) {
	ctx = ensureContext(ctx)

	table, err := s.GetTable(ctx, userID, connectionID, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	stmt, err := query.BuildDelete(table, filters)
	if err != nil {
		return nil, buildError(err)
	}
	return s.mutate(ctx, userID, connectionID, schemaName, tableName, "delete", stmt)
}

// ExecuteSQL validates an ad-hoc statement against the user's permissions
// and runs it when permitted. Denied and unparsable statements are audited
// and rejected with a generic error; the verdict reason goes to the audit
// trail, not the caller.
func (s *DataService) ExecuteSQL(ctx context.Context, userID, connectionID, sqlText string) (*SQLOutcome, error) {
	ctx = ensureContext(ctx)

	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	verdict, err := s.filter.Validate(ctx, query.ValidateInput{
		UserID:        userID,
		ConnectionID:  connectionID,
		DefaultSchema: conn.DefaultSchema,
		SQL:           sqlText,
	})
	if err != nil {
		return nil, fmt.Errorf("data service: validate sql: %w", err)
	}

	actor := userID
	if !verdict.Allowed {
		recordAudit(s.audit, ctx, AuditEntry{
			UserID:   &actor,
			Action:   ActionSQLRejected,
			Resource: connectionID,
			Result:   ResultDenied,
			Metadata: map[string]any{
				"operation": string(verdict.Operation),
				"reason":    verdict.Reason,
			},
		})
		return &SQLOutcome{Verdict: verdict}, apperrors.ErrSQLRejected
	}

	var result *query.Result
	if verdict.Operation == query.StatementSelect {
		result, err = s.gateway.Query(ctx, connectionID, query.Statement{SQL: sqlText})
	} else {
		result, err = s.gateway.Exec(ctx, connectionID, query.Statement{SQL: sqlText})
	}
	if err != nil {
		return nil, fmt.Errorf("data service: execute sql: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionSQLExecuted,
		Resource: connectionID,
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"operation":     string(verdict.Operation),
			"rows_affected": result.RowsAffected,
		},
	})
	_ = s.connections.TouchLastUsed(ctx, connectionID)
	return &SQLOutcome{Verdict: verdict, Result: result}, nil
}

func (s *DataService) mutate(ctx context.Context, userID, connectionID, schemaName, tableName, verb string, stmt query.Statement) (*query.Result, error) {
	result, err := s.gateway.Exec(ctx, connectionID, stmt)
	if err != nil {
		return nil, fmt.Errorf("data service: %s rows: %w", verb, err)
	}

	actor := userID
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actor,
		Action:   ActionDataMutated,
		Resource: resourcePath(connectionID, schemaName, tableName, ""),
		Result:   ResultSuccess,
		Metadata: map[string]any{
			"operation":     verb,
			"rows_affected": result.RowsAffected,
		},
	})
	return result, nil
}

// buildError maps builder failures onto API error envelopes: permission
// problems surface as 403 with the offending column, everything else as 400.
func buildError(err error) error {
	var permErr *query.ColumnPermissionError
	if errors.As(err, &permErr) {
		return apperrors.NewForbidden(permErr.Error())
	}
	switch {
	case errors.Is(err, query.ErrTableNotReadable),
		errors.Is(err, query.ErrTableNotWritable),
		errors.Is(err, query.ErrTableNotDeletable):
		return apperrors.NewForbidden(err.Error())
	default:
		return apperrors.NewBadRequest(err.Error())
	}
}

func firstCount(result *query.Result) int64 {
	if result == nil || len(result.Rows) == 0 || len(result.Columns) == 0 {
		return 0
	}
	value := result.Rows[0][result.Columns[0]]
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		var n int64
		_, _ = fmt.Sscan(v, &n)
		return n
	default:
		return 0
	}
}

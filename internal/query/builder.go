// Package query turns permitted operations into parameterized SQL: the
// dynamic builder for structured browsing requests, the permission filter
// for ad-hoc statements, and the gateway that executes both against target
// connections.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nateliu28/querydeck/internal/permissions"
)

// FilterOperator enumerates the comparison operators accepted in column filters.
type FilterOperator string

// Supported filter operators.
const (
	OpEquals            FilterOperator = "EQUALS"
	OpNotEquals         FilterOperator = "NOT_EQUALS"
	OpGreaterThan       FilterOperator = "GREATER_THAN"
	OpGreaterThanEquals FilterOperator = "GREATER_THAN_EQUALS"
	OpLessThan          FilterOperator = "LESS_THAN"
	OpLessThanEquals    FilterOperator = "LESS_THAN_EQUALS"
	OpLike              FilterOperator = "LIKE"
	OpNotLike           FilterOperator = "NOT_LIKE"
	OpIn                FilterOperator = "IN"
	OpNotIn             FilterOperator = "NOT_IN"
	OpBetween           FilterOperator = "BETWEEN"
	OpIsNull            FilterOperator = "IS_NULL"
	OpIsNotNull         FilterOperator = "IS_NOT_NULL"
)

// ColumnFilter restricts rows by one column. Values carries the list for
// IN/NOT_IN; Value2 is the inclusive upper bound for BETWEEN.
type ColumnFilter struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value,omitempty"`
	Value2   any            `json:"value2,omitempty"`
	Values   []any          `json:"values,omitempty"`
}

// SortOrder orders results by one column.
type SortOrder struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// Page selects a zero-based page of results.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// Statement is a parameterized SQL statement ready for the gateway. Values
// are always bound, never concatenated into the text.
type Statement struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// ColumnPermissionError names the column that blocked a build before any SQL
// was constructed.
type ColumnPermissionError struct {
	Column string
	Type   permissions.PermissionType
}

func (e *ColumnPermissionError) Error() string {
	return fmt.Sprintf("column %q requires %s permission", e.Column, e.Type)
}

var (
	// ErrTableNotReadable indicates a select/count against a table without READ.
	ErrTableNotReadable = errors.New("query builder: table is not readable")
	// ErrTableNotWritable indicates an insert/update against a table without WRITE.
	ErrTableNotWritable = errors.New("query builder: table is not writable")
	// ErrTableNotDeletable indicates a delete against a table without DELETE.
	ErrTableNotDeletable = errors.New("query builder: table is not deletable")
	// ErrNoWritableColumns indicates every supplied column was WRITE-denied.
	ErrNoWritableColumns = errors.New("query builder: no writable columns in request")
	// ErrUnknownColumn indicates a filter, sort, or value column absent from
	// the table metadata.
	ErrUnknownColumn = errors.New("query builder: unknown column")
	// ErrBadFilter indicates an operator/value combination that cannot be built.
	ErrBadFilter = errors.New("query builder: invalid filter")
)

// BuildSelect constructs a paginated SELECT projecting only READ-permitted
// columns. Every filter and sort column must be READ-permitted; the build
// fails naming the first offending column.
func BuildSelect(table permissions.AccessibleTable, filters []ColumnFilter, sorts []SortOrder, page Page) (Statement, error) {
	if !table.CanRead {
		return Statement{}, ErrTableNotReadable
	}

	projection := table.ReadableColumns()
	if len(projection) == 0 {
		return Statement{}, ErrTableNotReadable
	}

	quoted := make([]string, len(projection))
	for i, name := range projection {
		quoted[i] = quoteIdent(name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(quoted, ", "), qualifiedName(table))

	where, args, err := buildPredicate(table, filters)
	if err != nil {
		return Statement{}, err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	orderBy, err := buildOrder(table, sorts)
	if err != nil {
		return Statement{}, err
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}

	if page.Size > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, page.Size, page.Number*page.Size)
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}

// BuildCount constructs the COUNT companion of BuildSelect using the same
// predicate, for total-record pagination metadata.
func BuildCount(table permissions.AccessibleTable, filters []ColumnFilter) (Statement, error) {
	if !table.CanRead {
		return Statement{}, ErrTableNotReadable
	}

	where, args, err := buildPredicate(table, filters)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifiedName(table))
	if where != "" {
		sql += " WHERE " + where
	}
	return Statement{SQL: sql, Args: args}, nil
}

// BuildInsert constructs an INSERT from the supplied values. WRITE-denied
// columns are silently excluded so the target falls back to its default;
// unknown columns are rejected.
func BuildInsert(table permissions.AccessibleTable, values map[string]any) (Statement, error) {
	if !table.CanWrite {
		return Statement{}, ErrTableNotWritable
	}

	columns, args, err := writableValues(table, values)
	if err != nil {
		return Statement{}, err
	}
	if len(columns) == 0 {
		return Statement{}, ErrNoWritableColumns
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedName(table), strings.Join(columns, ", "), placeholders)
	return Statement{SQL: sql, Args: args}, nil
}

// BuildUpdate constructs an UPDATE whose SET clause contains only the
// WRITE-permitted columns among those supplied; denied columns are left
// unchanged. WHERE columns require READ.
func BuildUpdate(table permissions.AccessibleTable, values map[string]any, filters []ColumnFilter) (Statement, error) {
	if !table.CanWrite {
		return Statement{}, ErrTableNotWritable
	}

	columns, args, err := writableValues(table, values)
	if err != nil {
		return Statement{}, err
	}
	if len(columns) == 0 {
		return Statement{}, ErrNoWritableColumns
	}

	assignments := make([]string, len(columns))
	for i, col := range columns {
		assignments[i] = col + " = ?"
	}

	where, whereArgs, err := buildPredicate(table, filters)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", qualifiedName(table), strings.Join(assignments, ", "))
	if where != "" {
		sql += " WHERE " + where
	}
	return Statement{SQL: sql, Args: append(args, whereArgs...)}, nil
}

// BuildDelete constructs a DELETE. The table needs DELETE permission and
// every WHERE column needs READ.
func BuildDelete(table permissions.AccessibleTable, filters []ColumnFilter) (Statement, error) {
	if !table.CanDelete {
		return Statement{}, ErrTableNotDeletable
	}

	where, args, err := buildPredicate(table, filters)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("DELETE FROM %s", qualifiedName(table))
	if where != "" {
		sql += " WHERE " + where
	}
	return Statement{SQL: sql, Args: args}, nil
}

// writableValues walks the table's column order (for deterministic SQL) and
// keeps the supplied, WRITE-permitted columns.
func writableValues(table permissions.AccessibleTable, values map[string]any) ([]string, []any, error) {
	for name := range values {
		if _, ok := table.Column(name); !ok {
			return nil, nil, fmt.Errorf("%w %q", ErrUnknownColumn, name)
		}
	}

	var columns []string
	var args []any
	for _, col := range table.Columns {
		value, supplied := values[col.Name]
		if !supplied {
			continue
		}
		if !col.CanWrite {
			continue // silently excluded, left to the column default
		}
		columns = append(columns, quoteIdent(col.Name))
		args = append(args, value)
	}
	return columns, args, nil
}

func buildPredicate(table permissions.AccessibleTable, filters []ColumnFilter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any

	for _, filter := range filters {
		col, ok := table.Column(filter.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w %q", ErrUnknownColumn, filter.Column)
		}
		if !col.CanRead {
			return "", nil, &ColumnPermissionError{Column: filter.Column, Type: permissions.TypeRead}
		}

		ident := quoteIdent(col.Name)
		switch filter.Operator {
		case OpEquals:
			clauses = append(clauses, ident+" = ?")
			args = append(args, filter.Value)
		case OpNotEquals:
			clauses = append(clauses, ident+" <> ?")
			args = append(args, filter.Value)
		case OpGreaterThan:
			clauses = append(clauses, ident+" > ?")
			args = append(args, filter.Value)
		case OpGreaterThanEquals:
			clauses = append(clauses, ident+" >= ?")
			args = append(args, filter.Value)
		case OpLessThan:
			clauses = append(clauses, ident+" < ?")
			args = append(args, filter.Value)
		case OpLessThanEquals:
			clauses = append(clauses, ident+" <= ?")
			args = append(args, filter.Value)
		case OpLike:
			clauses = append(clauses, ident+" LIKE ?")
			args = append(args, filter.Value)
		case OpNotLike:
			clauses = append(clauses, ident+" NOT LIKE ?")
			args = append(args, filter.Value)
		case OpIn, OpNotIn:
			if len(filter.Values) == 0 {
				return "", nil, fmt.Errorf("%w: %s requires a value list", ErrBadFilter, filter.Operator)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Values)), ", ")
			op := " IN ("
			if filter.Operator == OpNotIn {
				op = " NOT IN ("
			}
			clauses = append(clauses, ident+op+placeholders+")")
			args = append(args, filter.Values...)
		case OpBetween:
			if filter.Value == nil || filter.Value2 == nil {
				return "", nil, fmt.Errorf("%w: BETWEEN requires value and value2", ErrBadFilter)
			}
			clauses = append(clauses, ident+" BETWEEN ? AND ?")
			args = append(args, filter.Value, filter.Value2)
		case OpIsNull:
			clauses = append(clauses, ident+" IS NULL")
		case OpIsNotNull:
			clauses = append(clauses, ident+" IS NOT NULL")
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", ErrBadFilter, filter.Operator)
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

func buildOrder(table permissions.AccessibleTable, sorts []SortOrder) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(sorts))
	for _, sort := range sorts {
		col, ok := table.Column(sort.Column)
		if !ok {
			return "", fmt.Errorf("%w %q", ErrUnknownColumn, sort.Column)
		}
		if !col.CanRead {
			return "", &ColumnPermissionError{Column: sort.Column, Type: permissions.TypeRead}
		}

		direction := " ASC"
		if sort.Descending {
			direction = " DESC"
		}
		parts = append(parts, quoteIdent(col.Name)+direction)
	}
	return strings.Join(parts, ", "), nil
}

// quoteIdent double-quotes an identifier. Identifiers are only ever drawn
// from crawled metadata, never from raw request text, so quoting is a
// belt-and-braces measure rather than the primary defense.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualifiedName(table permissions.AccessibleTable) string {
	if table.SchemaName == "" {
		return quoteIdent(table.TableName)
	}
	return quoteIdent(table.SchemaName) + "." + quoteIdent(table.TableName)
}

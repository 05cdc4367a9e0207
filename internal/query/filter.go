package query

import (
	"context"
	"fmt"

	"github.com/xwb1989/sqlparser"

	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/pkg/metrics"
)

// StatementOperation classifies an ad-hoc SQL statement.
type StatementOperation string

// Statement classifications and their required permission types.
const (
	StatementSelect StatementOperation = "SELECT"
	StatementInsert StatementOperation = "INSERT"
	StatementUpdate StatementOperation = "UPDATE"
	StatementDelete StatementOperation = "DELETE"
	StatementOther  StatementOperation = "OTHER"
)

// PermissionType maps the classification to the permission it requires.
func (op StatementOperation) PermissionType() permissions.PermissionType {
	switch op {
	case StatementInsert, StatementUpdate:
		return permissions.TypeWrite
	case StatementDelete:
		return permissions.TypeDelete
	default:
		return permissions.TypeRead
	}
}

// StatementTable is one table referenced by a statement, with the columns
// attributed to it. Star marks wildcard access: SELECT * projections or an
// INSERT without a column list.
type StatementTable struct {
	SchemaName string
	TableName  string
	Alias      string
	Columns    []string
	Star       bool
}

func (t *StatementTable) display() string {
	if t.SchemaName == "" {
		return t.TableName
	}
	return t.SchemaName + "." + t.TableName
}

func (t *StatementTable) addColumn(name string) {
	for _, existing := range t.Columns {
		if existing == name {
			return
		}
	}
	t.Columns = append(t.Columns, name)
}

// ParsedStatement is the permission-relevant shape of an ad-hoc statement.
type ParsedStatement struct {
	Operation StatementOperation
	Tables    []*StatementTable
}

// Verdict is the filter's decision on a statement. A denied verdict carries
// a reason suitable for returning to the caller.
type Verdict struct {
	Allowed   bool               `json:"allowed"`
	Operation StatementOperation `json:"operation"`
	Reason    string             `json:"reason,omitempty"`
}

// ColumnDenyProber reports whether any active column-level deny exists under
// a table, which blocks wildcard access to it.
type ColumnDenyProber interface {
	HasActiveColumnDeny(ctx context.Context, userID, connectionID string, pType permissions.PermissionType, schemaName, tableName string) (bool, error)
}

// Filter validates ad-hoc SQL against resolved permissions before execution.
// It parses the statement, classifies it, and checks every referenced table
// and column for the permission type the operation requires.
type Filter struct {
	resolver permissions.DecisionResolver
	denies   ColumnDenyProber
}

// NewFilter constructs a filter over the (normally cached) resolver and the
// grant store's column-deny probe.
func NewFilter(resolver permissions.DecisionResolver, denies ColumnDenyProber) (*Filter, error) {
	if resolver == nil {
		return nil, fmt.Errorf("sql filter: resolver is required")
	}
	if denies == nil {
		return nil, fmt.Errorf("sql filter: column deny prober is required")
	}
	return &Filter{resolver: resolver, denies: denies}, nil
}

// ValidateInput carries one statement to validate. DefaultSchema qualifies
// table references the statement leaves bare.
type ValidateInput struct {
	UserID        string
	ConnectionID  string
	DefaultSchema string
	SQL           string
}

// Validate parses and authorizes the statement. Statements that cannot be
// parsed are denied outright rather than passed through unchecked. The
// returned error is reserved for resolver and store failures; permission
// outcomes are expressed in the verdict.
func (f *Filter) Validate(ctx context.Context, in ValidateInput) (Verdict, error) {
	parsed, err := ParseStatement(in.SQL, in.DefaultSchema)
	if err != nil {
		metrics.SQLStatements.WithLabelValues(string(StatementOther), "rejected").Inc()
		return Verdict{Allowed: false, Operation: StatementOther, Reason: "statement could not be parsed"}, nil
	}
	if parsed.Operation == StatementOther {
		metrics.SQLStatements.WithLabelValues(string(StatementOther), "rejected").Inc()
		return Verdict{Allowed: false, Operation: StatementOther, Reason: "statement type is not permitted"}, nil
	}

	verdict, err := f.authorize(ctx, in, parsed)
	if err != nil {
		return Verdict{}, err
	}

	outcome := "denied"
	if verdict.Allowed {
		outcome = "allowed"
	}
	metrics.SQLStatements.WithLabelValues(string(verdict.Operation), outcome).Inc()
	return verdict, nil
}

func (f *Filter) authorize(ctx context.Context, in ValidateInput, parsed *ParsedStatement) (Verdict, error) {
	pType := parsed.Operation.PermissionType()

	for _, table := range parsed.Tables {
		decision, err := f.resolver.Resolve(ctx, permissions.Request{
			UserID:       in.UserID,
			ConnectionID: in.ConnectionID,
			Type:         pType,
			SchemaName:   table.SchemaName,
			TableName:    table.TableName,
		})
		if err != nil {
			return Verdict{}, fmt.Errorf("sql filter: resolve table %s: %w", table.display(), err)
		}
		if !decision.Granted {
			return deny(parsed.Operation, fmt.Sprintf("no %s permission on table %s", pType, table.display())), nil
		}

		if table.Star {
			blocked, err := f.denies.HasActiveColumnDeny(ctx, in.UserID, in.ConnectionID, pType, table.SchemaName, table.TableName)
			if err != nil {
				return Verdict{}, fmt.Errorf("sql filter: probe column denies for %s: %w", table.display(), err)
			}
			if blocked {
				return deny(parsed.Operation, fmt.Sprintf("column-level restrictions on table %s block wildcard access", table.display())), nil
			}
		}

		for _, column := range table.Columns {
			decision, err := f.resolver.Resolve(ctx, permissions.Request{
				UserID:       in.UserID,
				ConnectionID: in.ConnectionID,
				Type:         pType,
				SchemaName:   table.SchemaName,
				TableName:    table.TableName,
				ColumnName:   column,
			})
			if err != nil {
				return Verdict{}, fmt.Errorf("sql filter: resolve column %s.%s: %w", table.display(), column, err)
			}
			if !decision.Granted {
				return deny(parsed.Operation, fmt.Sprintf("no %s permission on column %s of table %s", pType, column, table.display())), nil
			}
		}
	}

	return Verdict{Allowed: true, Operation: parsed.Operation}, nil
}

func deny(op StatementOperation, reason string) Verdict {
	return Verdict{Allowed: false, Operation: op, Reason: reason}
}

// ParseStatement parses a statement and extracts the tables and columns it
// references, including tables behind JOINs and subqueries. Columns without
// a qualifier are attributed to every referenced table; a qualifier that
// matches no table reference fails the parse.
func ParseStatement(sql, defaultSchema string) (*ParsedStatement, error) {
	ast, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse statement: %w", err)
	}

	parsed := &ParsedStatement{Operation: classify(ast)}
	if parsed.Operation == StatementOther {
		return parsed, nil
	}

	if err := collectTables(ast, defaultSchema, parsed); err != nil {
		return nil, err
	}
	if err := collectColumns(ast, parsed); err != nil {
		return nil, err
	}

	if insert, ok := ast.(*sqlparser.Insert); ok {
		applyInsertColumns(insert, parsed)
	}

	return parsed, nil
}

func classify(ast sqlparser.Statement) StatementOperation {
	switch ast.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return StatementSelect
	case *sqlparser.Insert:
		return StatementInsert
	case *sqlparser.Update:
		return StatementUpdate
	case *sqlparser.Delete:
		return StatementDelete
	default:
		return StatementOther
	}
}

// collectTables walks the whole AST so tables inside JOINs, unions, and
// subqueries are all captured. INSERT targets are not table expressions in
// the grammar and are added separately.
func collectTables(ast sqlparser.Statement, defaultSchema string, parsed *ParsedStatement) error {
	if insert, ok := ast.(*sqlparser.Insert); ok {
		parsed.Tables = append(parsed.Tables, tableRef(insert.Table, "", defaultSchema))
	}

	return sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		expr, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		name, ok := expr.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil // derived table, its inner tables are walked
		}
		parsed.Tables = append(parsed.Tables, tableRef(name, expr.As.String(), defaultSchema))
		return true, nil
	}, ast)
}

func tableRef(name sqlparser.TableName, alias, defaultSchema string) *StatementTable {
	schemaName := name.Qualifier.String()
	if schemaName == "" {
		schemaName = defaultSchema
	}
	return &StatementTable{
		SchemaName: schemaName,
		TableName:  name.Name.String(),
		Alias:      alias,
	}
}

func collectColumns(ast sqlparser.Statement, parsed *ParsedStatement) error {
	return sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.ColName:
			return true, attributeColumn(parsed, n.Qualifier.Name.String(), n.Name.String())
		case *sqlparser.StarExpr:
			qualifier := n.TableName.Name.String()
			for _, table := range matchTables(parsed, qualifier) {
				table.Star = true
			}
			if qualifier != "" && len(matchTables(parsed, qualifier)) == 0 {
				return false, fmt.Errorf("parse statement: unknown table reference %q", qualifier)
			}
			return true, nil
		}
		return true, nil
	}, ast)
}

// attributeColumn assigns a column reference to the table its qualifier
// names, or to every referenced table when it has none.
func attributeColumn(parsed *ParsedStatement, qualifier, column string) error {
	matched := matchTables(parsed, qualifier)
	if len(matched) == 0 {
		return fmt.Errorf("parse statement: unknown table reference %q", qualifier)
	}
	for _, table := range matched {
		table.addColumn(column)
	}
	return nil
}

func matchTables(parsed *ParsedStatement, qualifier string) []*StatementTable {
	if qualifier == "" {
		return parsed.Tables
	}
	var matched []*StatementTable
	for _, table := range parsed.Tables {
		if table.Alias == qualifier || (table.Alias == "" && table.TableName == qualifier) {
			matched = append(matched, table)
		}
	}
	return matched
}

// applyInsertColumns marks the insert target. An explicit column list names
// the touched columns; without one the statement supplies every column, the
// same exposure as a wildcard.
func applyInsertColumns(insert *sqlparser.Insert, parsed *ParsedStatement) {
	if len(parsed.Tables) == 0 {
		return
	}
	target := parsed.Tables[0]
	if len(insert.Columns) == 0 {
		target.Star = true
		return
	}
	for _, col := range insert.Columns {
		target.addColumn(col.String())
	}
}

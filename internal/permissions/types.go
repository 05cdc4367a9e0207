// Package permissions implements the authorization core: hierarchical grant
// storage, scope-fallback resolution, decision caching, accessible-entity
// projection, and bulk grant application.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nateliu28/querydeck/internal/models"
)

// Scope is the granularity level of a permission grant, ordered by
// increasing specificity.
type Scope string

// Scope levels from least to most specific.
const (
	ScopeConnection Scope = "connection"
	ScopeSchema     Scope = "schema"
	ScopeTable      Scope = "table"
	ScopeColumn     Scope = "column"
)

// Rank orders scopes by specificity; higher is more specific.
func (s Scope) Rank() int {
	switch s {
	case ScopeConnection:
		return 0
	case ScopeSchema:
		return 1
	case ScopeTable:
		return 2
	case ScopeColumn:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the scope is one of the known levels.
func (s Scope) Valid() bool {
	return s.Rank() >= 0
}

// PermissionType is the operation class a grant covers.
type PermissionType string

// Permission types.
const (
	TypeRead   PermissionType = "read"
	TypeWrite  PermissionType = "write"
	TypeDelete PermissionType = "delete"
	TypeAdmin  PermissionType = "admin"
)

// AllTypes lists every permission type, in capability-flag order.
var AllTypes = []PermissionType{TypeRead, TypeWrite, TypeDelete, TypeAdmin}

// Valid reports whether the type is one of the known classes.
func (t PermissionType) Valid() bool {
	switch t {
	case TypeRead, TypeWrite, TypeDelete, TypeAdmin:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidCoordinates indicates a request or grant whose scope fields
	// violate the nullability invariant (e.g. a column without a table).
	// This is a programming error, not a denial.
	ErrInvalidCoordinates = errors.New("permissions: invalid scope coordinates")

	// ErrDuplicateGrant indicates an identical active grant already exists
	// for the tuple.
	ErrDuplicateGrant = errors.New("permissions: active grant already exists for tuple")

	// ErrGrantNotFound indicates the referenced grant row does not exist.
	ErrGrantNotFound = errors.New("permissions: grant not found")

	errNilResolver = errors.New("permissions: resolver is required")
)

// Request identifies one authorization question: may this user perform this
// operation class at these coordinates of this connection?
type Request struct {
	UserID       string
	ConnectionID string
	Type         PermissionType
	SchemaName   string
	TableName    string
	ColumnName   string
}

// Validate enforces the coordinate invariant: a column needs a table, a
// table needs a schema.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidCoordinates)
	}
	if strings.TrimSpace(r.ConnectionID) == "" {
		return fmt.Errorf("%w: connection id is required", ErrInvalidCoordinates)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown permission type %q", ErrInvalidCoordinates, r.Type)
	}
	if r.ColumnName != "" && r.TableName == "" {
		return fmt.Errorf("%w: column %q given without a table", ErrInvalidCoordinates, r.ColumnName)
	}
	if r.TableName != "" && r.SchemaName == "" {
		return fmt.Errorf("%w: table %q given without a schema", ErrInvalidCoordinates, r.TableName)
	}
	return nil
}

// MostSpecificScope returns the deepest scope the request coordinates reach.
func (r Request) MostSpecificScope() Scope {
	switch {
	case r.ColumnName != "":
		return ScopeColumn
	case r.TableName != "":
		return ScopeTable
	case r.SchemaName != "":
		return ScopeSchema
	default:
		return ScopeConnection
	}
}

// CacheKey is a stable identifier for the full request tuple.
func (r Request) CacheKey() string {
	return strings.Join([]string{
		r.UserID, r.ConnectionID, string(r.Type),
		r.SchemaName, r.TableName, r.ColumnName,
	}, "\x1f")
}

// Decision is the outcome of resolving a Request. It is derived, never
// stored; callers branch on Granted rather than on errors for the ordinary
// "not allowed" case.
type Decision struct {
	Granted bool                    `json:"granted"`
	Scope   Scope                   `json:"scope,omitempty"`
	Reason  string                  `json:"reason"`
	Grant   *models.PermissionGrant `json:"-"`
}

// Deny builds a denial decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Granted: false, Reason: reason}
}

// DecisionResolver is the resolution contract shared by the raw resolver and
// its caching wrapper.
type DecisionResolver interface {
	Resolve(ctx context.Context, req Request) (Decision, error)
}

// Auditor receives permission-check outcomes destined for the audit sink.
// Implementations must tolerate failures silently; auditing never blocks a
// decision.
type Auditor interface {
	PermissionChecked(ctx context.Context, req Request, decision Decision)
}

// ValidateGrantCoordinates enforces the data-model invariant on a grant row:
// fields more specific than the scope must be empty, fields at or above it
// must be set.
func ValidateGrantCoordinates(g *models.PermissionGrant) error {
	if g == nil {
		return fmt.Errorf("%w: nil grant", ErrInvalidCoordinates)
	}

	scope := Scope(g.Scope)
	if !scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidCoordinates, g.Scope)
	}
	if !PermissionType(g.PermissionType).Valid() {
		return fmt.Errorf("%w: unknown permission type %q", ErrInvalidCoordinates, g.PermissionType)
	}

	rank := scope.Rank()
	if (g.SchemaName != "") != (rank >= ScopeSchema.Rank()) {
		return fmt.Errorf("%w: schema name must be set exactly for schema scope and below", ErrInvalidCoordinates)
	}
	if (g.TableName != "") != (rank >= ScopeTable.Rank()) {
		return fmt.Errorf("%w: table name must be set exactly for table scope and below", ErrInvalidCoordinates)
	}
	if (g.ColumnName != "") != (rank >= ScopeColumn.Rank()) {
		return fmt.Errorf("%w: column name must be set exactly for column scope", ErrInvalidCoordinates)
	}
	return nil
}

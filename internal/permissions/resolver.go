package permissions

import (
	"context"
	"fmt"

	"github.com/nateliu28/querydeck/internal/models"
	"github.com/nateliu28/querydeck/pkg/metrics"
)

// Resolver computes effective permission decisions by walking grant scopes
// from most specific to least specific. The first active grant found decides;
// an explicit deny is a match and never falls through to a broader allow.
type Resolver struct {
	store *GrantStore
	audit Auditor
}

// NewResolver constructs a resolver over the grant store. The auditor is
// optional; when present it receives denial outcomes.
func NewResolver(store *GrantStore, audit Auditor) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("resolver: store is required")
	}
	return &Resolver{store: store, audit: audit}, nil
}

// Resolve answers the request. Absence of any active grant is an ordinary
// deny decision, not an error; errors signal malformed coordinates or
// storage failures only.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		metrics.PermissionChecks.WithLabelValues(string(req.Type), "error").Inc()
		return Decision{}, err
	}

	candidates, err := r.store.Candidates(ctx, req)
	if err != nil {
		metrics.PermissionChecks.WithLabelValues(string(req.Type), "error").Inc()
		return Decision{}, err
	}

	decision := decide(req, candidates)

	if decision.Granted {
		metrics.PermissionChecks.WithLabelValues(string(req.Type), "allow").Inc()
	} else {
		metrics.PermissionChecks.WithLabelValues(string(req.Type), "deny").Inc()
		if r.audit != nil {
			r.audit.PermissionChecked(ctx, req, decision)
		}
	}

	return decision, nil
}

// decide walks the applicable scopes most-specific first. The walk order is
// part of the contract: reordering would change outcomes when a narrow deny
// shadows a broad allow.
func decide(req Request, candidates []models.PermissionGrant) Decision {
	byScope := make(map[Scope]*models.PermissionGrant, len(candidates))
	for i := range candidates {
		grant := &candidates[i]
		scope := Scope(grant.Scope)
		current, ok := byScope[scope]
		// Duplicate active rows at one scope should not exist; if they do,
		// the deny wins.
		if !ok || (current.Granted && !grant.Granted) {
			byScope[scope] = grant
		}
	}

	for rank := req.MostSpecificScope().Rank(); rank >= 0; rank-- {
		scope := scopeAtRank(rank)
		grant, ok := byScope[scope]
		if !ok {
			continue
		}
		if grant.Granted {
			return Decision{
				Granted: true,
				Scope:   scope,
				Reason:  fmt.Sprintf("granted at %s scope", scope),
				Grant:   grant,
			}
		}
		return Decision{
			Granted: false,
			Scope:   scope,
			Reason:  fmt.Sprintf("denied at %s scope", scope),
			Grant:   grant,
		}
	}

	return Deny("no active grant")
}

func scopeAtRank(rank int) Scope {
	switch rank {
	case 0:
		return ScopeConnection
	case 1:
		return ScopeSchema
	case 2:
		return ScopeTable
	default:
		return ScopeColumn
	}
}

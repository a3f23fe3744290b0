// Package tenant defines the isolation boundary shared by every record and
// query in the concierge core.
package tenant

import (
	"errors"
	"fmt"
)

// ErrInvalidScope indicates that a scope is missing one or more identifiers.
var ErrInvalidScope = errors.New("invalid tenant scope")

// Scope identifies one isolation boundary: a (tenant, property, agent) triple.
//
// Every personality record, memory record, and query carries a Scope. Two
// scopes match only when all three fields are byte-for-byte equal; there is
// no fuzzy or partial matching anywhere in the system.
type Scope struct {
	// TenantID identifies the hospitality operator.
	TenantID string `json:"tenant_id"`

	// PropertyID identifies one property under the tenant.
	PropertyID string `json:"property_id"`

	// AgentID identifies one concierge agent at the property.
	AgentID string `json:"agent_id"`
}

// Validate checks that all three identifiers are present.
//
// A scope with any empty field must never reach a store; callers reject it
// up front rather than risking records that silently leak across boundaries.
func (s Scope) Validate() error {
	if s.TenantID == "" || s.PropertyID == "" || s.AgentID == "" {
		return fmt.Errorf("%w: tenant=%q property=%q agent=%q",
			ErrInvalidScope, s.TenantID, s.PropertyID, s.AgentID)
	}
	return nil
}

// Equal reports whether two scopes are exactly the same boundary.
func (s Scope) Equal(o Scope) bool {
	return s.TenantID == o.TenantID &&
		s.PropertyID == o.PropertyID &&
		s.AgentID == o.AgentID
}

// Key returns a stable composite key for map and cache indexing.
func (s Scope) Key() string {
	return s.TenantID + "/" + s.PropertyID + "/" + s.AgentID
}

// String implements fmt.Stringer for log output.
func (s Scope) String() string {
	return s.Key()
}

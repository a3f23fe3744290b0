package tenant_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

func TestScopeValidate(t *testing.T) {
	valid := tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a1"}
	assert.NoError(t, valid.Validate())

	testCases := []struct {
		name  string
		scope tenant.Scope
	}{
		{"missing tenant", tenant.Scope{PropertyID: "p1", AgentID: "a1"}},
		{"missing property", tenant.Scope{TenantID: "t1", AgentID: "a1"}},
		{"missing agent", tenant.Scope{TenantID: "t1", PropertyID: "p1"}},
		{"empty", tenant.Scope{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scope.Validate()
			assert.ErrorIs(t, err, tenant.ErrInvalidScope)
		})
	}
}

func TestScopeEqual(t *testing.T) {
	a := tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a1"}

	assert.True(t, a.Equal(tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a1"}))

	// A single differing field breaks equality.
	assert.False(t, a.Equal(tenant.Scope{TenantID: "t2", PropertyID: "p1", AgentID: "a1"}))
	assert.False(t, a.Equal(tenant.Scope{TenantID: "t1", PropertyID: "p2", AgentID: "a1"}))
	assert.False(t, a.Equal(tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a2"}))
}

func TestScopeKey(t *testing.T) {
	s := tenant.Scope{TenantID: "t1", PropertyID: "p1", AgentID: "a1"}
	assert.Equal(t, "t1/p1/a1", s.Key())
	assert.Equal(t, s.Key(), s.String())
}

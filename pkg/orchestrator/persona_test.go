package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

func personaScope() tenant.Scope {
	return tenant.Scope{TenantID: "t", PropertyID: "p", AgentID: "a"}
}

func TestComposePersonaDeterministic(t *testing.T) {
	state := traits.DefaultState(personaScope())

	a := ComposePersona(state, nil, "sms")
	b := ComposePersona(state, nil, "sms")
	assert.Equal(t, a, b)
}

func TestComposePersonaReflectsTraits(t *testing.T) {
	warm := traits.DefaultState(personaScope())
	warm.Traits.Warmth = 0.9

	cold := traits.DefaultState(personaScope())
	cold.Traits.Warmth = 0.1

	warmPersona := ComposePersona(warm, nil, "")
	coldPersona := ComposePersona(cold, nil, "")

	assert.NotEqual(t, warmPersona, coldPersona)
	assert.Contains(t, warmPersona, "warm and personable")
	assert.Contains(t, coldPersona, "without small talk")
}

func TestComposePersonaIncludesMemories(t *testing.T) {
	state := traits.DefaultState(personaScope())
	memories := []*storage.Record{
		{Content: "guest prefers a high floor"},
		{Content: "guest is allergic to feather pillows"},
	}

	persona := ComposePersona(state, memories, "")
	assert.Contains(t, persona, "guest prefers a high floor")
	assert.Contains(t, persona, "guest is allergic to feather pillows")
}

func TestBucketBoundaries(t *testing.T) {
	assert.Equal(t, 0, bucket(0.0))
	assert.Equal(t, 0, bucket(0.34))
	assert.Equal(t, 1, bucket(0.35))
	assert.Equal(t, 1, bucket(0.5))
	assert.Equal(t, 1, bucket(0.65))
	assert.Equal(t, 2, bucket(0.66))
	assert.Equal(t, 2, bucket(1.0))
}

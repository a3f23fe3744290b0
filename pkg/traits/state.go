// Package traits defines the behavioral-trait model for concierge agents and
// the versioned store interface that persists it.
package traits

import (
	"time"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// DefaultTraitValue is the starting value for every trait of a scope that has
// never interacted. States are created lazily with this default; missing
// scopes are never an error.
const DefaultTraitValue = 0.5

// Traits holds the four bounded behavioral dimensions describing agent tone.
//
// Every value always lies in [0,1]. The adaptation engine is the only writer;
// it clamps on every update.
type Traits struct {
	// Warmth controls how friendly and personal the agent's phrasing is.
	Warmth float64 `json:"warmth"`

	// Attentiveness controls how much the agent references prior context.
	Attentiveness float64 `json:"attentiveness"`

	// Proactivity controls how readily the agent suggests next actions.
	Proactivity float64 `json:"proactivity"`

	// Professionalism controls formality of tone.
	Professionalism float64 `json:"professionalism"`
}

// State is the persisted behavioral-trait record for one scope.
type State struct {
	// Scope is the isolation boundary this state belongs to.
	Scope tenant.Scope `json:"scope"`

	// Traits are the current behavioral dimensions, each in [0,1].
	Traits Traits `json:"traits"`

	// InteractionCount is the number of interactions that have shaped this
	// state. It only grows; the adaptation learning rate decays with it.
	InteractionCount int64 `json:"interaction_count"`

	// LastUpdatedAt is when the state was last written.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// Version increases by exactly 1 on every successful Put. Version 0
	// marks a default state that has never been persisted.
	Version int64 `json:"version"`
}

// DefaultState returns the lazily-created state for a scope with no record.
func DefaultState(scope tenant.Scope) *State {
	return &State{
		Scope: scope,
		Traits: Traits{
			Warmth:          DefaultTraitValue,
			Attentiveness:   DefaultTraitValue,
			Proactivity:     DefaultTraitValue,
			Professionalism: DefaultTraitValue,
		},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's view of the state.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Values returns the traits as a name-keyed map, in a fixed iteration order
// via Names. Used by the persona composer and the weight-table config.
func (t Traits) Values() map[string]float64 {
	return map[string]float64{
		TraitWarmth:          t.Warmth,
		TraitAttentiveness:   t.Attentiveness,
		TraitProactivity:     t.Proactivity,
		TraitProfessionalism: t.Professionalism,
	}
}

// Set assigns one named trait. Unknown names are ignored.
func (t *Traits) Set(name string, v float64) {
	switch name {
	case TraitWarmth:
		t.Warmth = v
	case TraitAttentiveness:
		t.Attentiveness = v
	case TraitProactivity:
		t.Proactivity = v
	case TraitProfessionalism:
		t.Professionalism = v
	}
}

// Trait names used in configuration weight tables and log fields.
const (
	TraitWarmth          = "warmth"
	TraitAttentiveness   = "attentiveness"
	TraitProactivity     = "proactivity"
	TraitProfessionalism = "professionalism"
)

// Names lists the trait names in canonical order.
func Names() []string {
	return []string{TraitWarmth, TraitAttentiveness, TraitProactivity, TraitProfessionalism}
}

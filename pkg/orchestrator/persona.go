package orchestrator

import (
	"fmt"
	"strings"

	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// Trait bucket boundaries for persona phrasing.
const (
	lowTraitBound  = 0.35
	highTraitBound = 0.65
)

// personaPhrases maps each trait bucket to a phrasing instruction. The same
// trait vector always yields the same persona text.
var personaPhrases = map[string][3]string{
	traits.TraitWarmth: {
		"Keep a courteous, efficient tone without small talk.",
		"Be friendly and welcoming in a measured way.",
		"Be warm and personable; greet the guest by situation and show genuine care.",
	},
	traits.TraitAttentiveness: {
		"Answer exactly what was asked.",
		"Acknowledge the guest's stated needs before answering.",
		"Pick up on details and preferences the guest mentions and reflect them back.",
	},
	traits.TraitProactivity: {
		"Do not volunteer suggestions unless asked.",
		"Offer a relevant suggestion when it clearly helps.",
		"Anticipate follow-up needs and proactively offer next steps or amenities.",
	},
	traits.TraitProfessionalism: {
		"Keep language casual and relaxed.",
		"Stay polished but approachable.",
		"Maintain formal, precise hotel-standard language at all times.",
	},
}

// bucket returns 0 (low), 1 (medium) or 2 (high) for a trait value.
func bucket(v float64) int {
	switch {
	case v < lowTraitBound:
		return 0
	case v > highTraitBound:
		return 2
	default:
		return 1
	}
}

// ComposePersona builds the system prompt for one turn: phrasing instructions
// derived deterministically from the trait values, followed by the retrieved
// memory context.
func ComposePersona(state *traits.State, memories []*storage.Record, channel string) string {
	var b strings.Builder

	b.WriteString("You are the property's concierge assistant.")
	if channel != "" {
		fmt.Fprintf(&b, " You are replying on the %s channel.", channel)
	}
	b.WriteString("\n\nStyle:\n")

	for _, name := range traits.Names() {
		phrases := personaPhrases[name]
		b.WriteString("- ")
		b.WriteString(phrases[bucket(state.Traits.Values()[name])])
		b.WriteString("\n")
	}

	if len(memories) > 0 {
		b.WriteString("\nRelevant context from earlier conversations:\n")
		for _, record := range memories {
			b.WriteString("- ")
			b.WriteString(record.Content)
			b.WriteString("\n")
		}
	}

	return b.String()
}

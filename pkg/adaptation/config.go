package adaptation

import (
	"fmt"
	"time"

	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// Default tuning constants. The source behavior is underspecified beyond the
// shape of the update, so every coefficient is configuration.
const (
	// DefaultPriorStrength is the k in the learning-rate weight
	// 1/(interactionCount + k). Larger values make the personality
	// settle faster.
	DefaultPriorStrength = 4.0

	// DefaultMaxDelta bounds how far one interaction can move a trait.
	DefaultMaxDelta = 0.15

	// DefaultDecayRate controls idle relaxation toward the baseline,
	// applied as exp(-rate * idleHours / 24).
	DefaultDecayRate = 0.05

	// DefaultDecayHorizon is the idle period after which relaxation kicks in.
	DefaultDecayHorizon = 72 * time.Hour

	// DefaultMaxRetries bounds the read-retry-write cycle on version
	// conflicts.
	DefaultMaxRetries = 5
)

// FeatureWeights maps the implicit features onto one trait's observed
// estimate. Weights are renormalized over the features actually present in a
// signal, so a missing feature shifts influence to the others instead of
// dragging the estimate toward zero.
type FeatureWeights struct {
	Sentiment   float64
	TaskSuccess float64
	Latency     float64
	TurnLength  float64
}

// WeightTable holds per-trait feature weights.
type WeightTable map[string]FeatureWeights

// DefaultWeightTable returns the built-in weighting. Warmth listens mostly to
// sentiment; professionalism mostly to task outcomes; attentiveness and
// proactivity blend responsiveness and engagement.
func DefaultWeightTable() WeightTable {
	return WeightTable{
		traits.TraitWarmth:          {Sentiment: 0.6, TaskSuccess: 0.2, Latency: 0.0, TurnLength: 0.2},
		traits.TraitAttentiveness:   {Sentiment: 0.2, TaskSuccess: 0.3, Latency: 0.3, TurnLength: 0.2},
		traits.TraitProactivity:     {Sentiment: 0.1, TaskSuccess: 0.4, Latency: 0.2, TurnLength: 0.3},
		traits.TraitProfessionalism: {Sentiment: 0.3, TaskSuccess: 0.5, Latency: 0.2, TurnLength: 0.0},
	}
}

// Config contains adaptation engine configuration.
type Config struct {
	// PriorStrength is k in the learning-rate weight 1/(count + k).
	PriorStrength float64

	// MaxDelta is the per-trait single-step delta ceiling.
	MaxDelta float64

	// DecayRate is the idle relaxation rate.
	DecayRate float64

	// DecayHorizon is the idle period before relaxation applies.
	DecayHorizon time.Duration

	// MaxRetries bounds CAS conflict retries.
	MaxRetries int

	// Weights is the per-trait feature weight table. Nil means
	// DefaultWeightTable().
	Weights WeightTable

	// LatencyTargetMs is the latency at or below which responsiveness
	// scores 1.0; the score falls linearly to 0 at ten times the target.
	LatencyTargetMs float64

	// TurnLengthTarget is the message length (runes) treated as full
	// engagement.
	TurnLengthTarget int
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
	if c.PriorStrength <= 0 {
		c.PriorStrength = DefaultPriorStrength
	}
	if c.MaxDelta <= 0 {
		c.MaxDelta = DefaultMaxDelta
	}
	if c.DecayRate <= 0 {
		c.DecayRate = DefaultDecayRate
	}
	if c.DecayHorizon <= 0 {
		c.DecayHorizon = DefaultDecayHorizon
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Weights == nil {
		c.Weights = DefaultWeightTable()
	}
	if c.LatencyTargetMs <= 0 {
		c.LatencyTargetMs = 1000
	}
	if c.TurnLengthTarget <= 0 {
		c.TurnLengthTarget = 400
	}
	return c
}

// Validate checks the weight table covers all traits with non-negative
// weights summing above zero.
func (c Config) Validate() error {
	if c.Weights == nil {
		return nil
	}
	for _, name := range traits.Names() {
		w, ok := c.Weights[name]
		if !ok {
			return fmt.Errorf("weight table missing trait %q", name)
		}
		if w.Sentiment < 0 || w.TaskSuccess < 0 || w.Latency < 0 || w.TurnLength < 0 {
			return fmt.Errorf("weight table has negative weight for trait %q", name)
		}
		if w.Sentiment+w.TaskSuccess+w.Latency+w.TurnLength <= 0 {
			return fmt.Errorf("weight table has zero total weight for trait %q", name)
		}
	}
	return nil
}

// Package adaptation implements the personality adaptation engine.
//
// Each interaction produces a Signal; the engine turns it into a new trait
// state through an expectation-maximization-style cycle: estimate what the
// interaction says about each trait (explicit feedback dominates, otherwise a
// weight table over implicit features), then blend that estimate into the
// stored value with a learning rate that decays as the interaction count
// grows. Idle scopes relax toward the baseline before new evidence applies.
package adaptation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// ErrConflictBudgetExhausted is returned when every CAS retry lost the race.
var ErrConflictBudgetExhausted = errors.New("trait update retries exhausted")

// Implicit holds the observable features of one interaction. Pointer fields
// distinguish "not measured" from a zero value; absent features shift weight
// to the present ones.
type Implicit struct {
	// LatencyMs is the end-to-end response latency.
	LatencyMs *float64

	// SentimentScore is the guest message sentiment in [-1,1].
	SentimentScore *float64

	// TaskSucceeded reports whether the turn accomplished its task.
	TaskSucceeded *bool

	// TurnLength is the guest message length in runes. Zero means absent.
	TurnLength int
}

// Signal is the evidence one interaction contributes. It is ephemeral: the
// engine consumes it and nothing persists it.
type Signal struct {
	Scope tenant.Scope

	// ExplicitFeedback in [0,1] dominates the implicit features entirely
	// when present.
	ExplicitFeedback *float64

	Implicit Implicit

	// Timestamp is when the interaction happened. Zero means now.
	Timestamp time.Time
}

// Engine applies signals to trait states with bounded optimistic retries.
type Engine struct {
	store  traits.Store
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates an adaptation engine over the given trait store.
func NewEngine(store traits.Store, cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}, nil
}

// Apply folds one signal into the scope's trait state.
//
// The update is read-modify-write against the store's version. A stale
// version re-reads and retries up to the configured budget, then returns
// ErrConflictBudgetExhausted. A signal with no usable features still counts
// the interaction but moves no trait.
func (e *Engine) Apply(ctx context.Context, signal Signal) (*traits.State, error) {
	if err := signal.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	now := signal.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		state, err := e.store.Get(ctx, signal.Scope)
		if err != nil {
			return nil, fmt.Errorf("Apply: %w", err)
		}

		next := e.computeNext(state, signal, now)

		if err := e.store.Put(ctx, next, state.Version); err != nil {
			var stale *traits.StaleVersionError
			if errors.As(err, &stale) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("Apply: %w", err)
		}

		return next, nil
	}

	return nil, fmt.Errorf("Apply: %w: %v", ErrConflictBudgetExhausted, lastErr)
}

// computeNext produces the successor state: idle decay, then per-trait
// E-step estimate and M-step blend under the delta ceiling and [0,1] clamp.
func (e *Engine) computeNext(state *traits.State, signal Signal, now time.Time) *traits.State {
	next := state.Clone()

	if state.InteractionCount > 0 {
		e.applyIdleDecay(next, now)
	}

	lr := 1.0 / (float64(state.InteractionCount) + e.cfg.PriorStrength)

	for name, current := range next.Traits.Values() {
		observed, ok := e.observedEstimate(name, signal)
		if !ok {
			continue
		}

		delta := lr * (observed - current)
		if delta > e.cfg.MaxDelta {
			delta = e.cfg.MaxDelta
		} else if delta < -e.cfg.MaxDelta {
			delta = -e.cfg.MaxDelta
		}

		next.Traits.Set(name, clamp01(current+delta))
	}

	next.InteractionCount = state.InteractionCount + 1
	next.LastUpdatedAt = now
	return next
}

// applyIdleDecay relaxes traits toward the baseline when the scope has been
// idle beyond the horizon. The retention factor follows the Ebbinghaus shape
// exp(-rate * idleHours / 24).
func (e *Engine) applyIdleDecay(state *traits.State, now time.Time) {
	idle := now.Sub(state.LastUpdatedAt)
	if idle <= e.cfg.DecayHorizon {
		return
	}

	idleHours := idle.Hours()
	retention := math.Exp(-e.cfg.DecayRate * idleHours / 24)

	for name, v := range state.Traits.Values() {
		state.Traits.Set(name, traits.DefaultTraitValue+(v-traits.DefaultTraitValue)*retention)
	}
}

// observedEstimate is the E-step: what this interaction says the trait
// should be. The second return is false when there is no evidence at all,
// which degrades the update to a neutral no-op for that trait.
func (e *Engine) observedEstimate(trait string, signal Signal) (float64, bool) {
	if signal.ExplicitFeedback != nil {
		return clamp01(*signal.ExplicitFeedback), true
	}

	w, ok := e.cfg.Weights[trait]
	if !ok {
		return 0, false
	}

	var sum, total float64

	if signal.Implicit.SentimentScore != nil && w.Sentiment > 0 {
		// [-1,1] sentiment mapped onto [0,1].
		s := clamp01((*signal.Implicit.SentimentScore + 1) / 2)
		sum += w.Sentiment * s
		total += w.Sentiment
	}

	if signal.Implicit.TaskSucceeded != nil && w.TaskSuccess > 0 {
		s := 0.0
		if *signal.Implicit.TaskSucceeded {
			s = 1.0
		}
		sum += w.TaskSuccess * s
		total += w.TaskSuccess
	}

	if signal.Implicit.LatencyMs != nil && w.Latency > 0 {
		sum += w.Latency * e.latencyScore(*signal.Implicit.LatencyMs)
		total += w.Latency
	}

	if signal.Implicit.TurnLength > 0 && w.TurnLength > 0 {
		s := clamp01(float64(signal.Implicit.TurnLength) / float64(e.cfg.TurnLengthTarget))
		sum += w.TurnLength * s
		total += w.TurnLength
	}

	if total == 0 {
		return 0, false
	}

	return sum / total, true
}

// latencyScore maps latency to responsiveness: 1.0 at or below the target,
// falling linearly to 0 at ten times the target.
func (e *Engine) latencyScore(latencyMs float64) float64 {
	if latencyMs <= e.cfg.LatencyTargetMs {
		return 1.0
	}
	return clamp01(1 - (latencyMs-e.cfg.LatencyTargetMs)/(9*e.cfg.LatencyTargetMs))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

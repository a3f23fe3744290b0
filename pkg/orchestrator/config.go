package orchestrator

import "time"

// Defaults for the per-turn budgets.
const (
	// DefaultMaxHops bounds the tool-call loop.
	DefaultMaxHops = 3

	// DefaultMaxAttempts bounds generation and tool-call retries.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = 200 * time.Millisecond

	// DefaultBackoffCap caps the retry delay.
	DefaultBackoffCap = 2 * time.Second

	// DefaultCallTimeout bounds each external call.
	DefaultCallTimeout = 30 * time.Second

	// DefaultTurnDeadline bounds the whole turn.
	DefaultTurnDeadline = 2 * time.Minute

	// DefaultFallbackMessage is returned when the retry or hop budget runs
	// out.
	DefaultFallbackMessage = "I'm sorry, I couldn't complete that request right now. " +
		"Please try again in a moment or contact the front desk directly."
)

// Config contains orchestrator configuration.
type Config struct {
	// MaxHops bounds tool-execution rounds per turn. Zero means
	// DefaultMaxHops.
	MaxHops int

	// MaxAttempts bounds retries for one generation or tool call. Zero
	// means DefaultMaxAttempts.
	MaxAttempts int

	// BackoffBase is the initial retry delay. Zero means
	// DefaultBackoffBase.
	BackoffBase time.Duration

	// BackoffCap caps the retry delay. Zero means DefaultBackoffCap.
	BackoffCap time.Duration

	// CallTimeout bounds each external call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// TurnDeadline bounds the whole turn. Zero means DefaultTurnDeadline.
	TurnDeadline time.Duration

	// FallbackMessage replaces the assistant message when budgets run out.
	FallbackMessage string

	// MemoryTTL sets ExpiresAt on stored turn records. Zero means no
	// expiry.
	MemoryTTL time.Duration

	// MaxTokens and Temperature pass through to the generation provider.
	MaxTokens   int
	Temperature float64
}

func (c Config) withDefaults() Config {
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.TurnDeadline <= 0 {
		c.TurnDeadline = DefaultTurnDeadline
	}
	if c.FallbackMessage == "" {
		c.FallbackMessage = DefaultFallbackMessage
	}
	return c
}

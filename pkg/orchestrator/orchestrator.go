// Package orchestrator runs one conversation turn end to end: retrieve
// memory, read personality, compose the persona prompt, drive the generation
// provider through a bounded tool loop, then commit the turn's side effects.
//
// Side effects are all-or-nothing: a cancelled turn performs no trait update
// and no memory write. Infrastructure failures degrade the turn (memory
// outage, trait-read failure) or end it with a fallback response (retry and
// hop budgets); only cancellation and invalid input fail it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thependalorian/buffrhost-sub000/pkg/adaptation"
	"github.com/thependalorian/buffrhost-sub000/pkg/embedder"
	"github.com/thependalorian/buffrhost-sub000/pkg/generation"
	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/tools"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
)

// fallbackSentiment is the negative-leaning sentiment recorded when a turn
// ends in a fallback response.
const fallbackSentiment = -0.5

// Retriever supplies scoped memory context for a turn.
type Retriever interface {
	Retrieve(ctx context.Context, scope tenant.Scope, query string) ([]*storage.Record, error)
}

// TurnRequest is one inbound guest message.
type TurnRequest struct {
	Scope          tenant.Scope
	ConversationID string
	UserMessage    string
	Channel        string

	// Feedback is optional explicit guest feedback in [0,1] attached to
	// this turn by the caller.
	Feedback *float64
}

// ToolExecution records one executed tool call for the response.
type ToolExecution struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Result  string          `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Success bool            `json:"success"`
}

// TurnResponse is the outcome of one turn.
type TurnResponse struct {
	// TurnID correlates logs and executions for this turn.
	TurnID string

	AssistantMessage  string
	ToolCallsExecuted []ToolExecution

	// Personality is the trait state after this turn's update.
	Personality *traits.State

	// Fallback reports that a budget ran out and AssistantMessage is the
	// configured fallback text.
	Fallback bool
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Retriever  Retriever
	Traits     traits.Store
	Engine     *adaptation.Engine
	RetryQueue *adaptation.RetryQueue
	Provider   generation.Provider
	Executor   tools.Executor
	Tools      []tools.Definition
	Memory     storage.MemoryStore
	Embedder   embedder.Provider

	// IDs mints memory-record IDs. Nil creates a node with machine ID 1.
	IDs *snowflake.Node
}

// Orchestrator drives conversation turns.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Traits == nil {
		return nil, fmt.Errorf("orchestrator: trait store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("orchestrator: adaptation engine is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("orchestrator: generation provider is required")
	}
	if len(deps.Tools) > 0 && deps.Executor == nil {
		return nil, fmt.Errorf("orchestrator: tools configured without an executor")
	}

	if deps.IDs == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		deps.IDs = node
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}, nil
}

// HandleTurn runs the per-turn pipeline and returns the assistant message.
//
// Cancellation mid-pipeline aborts outstanding calls and skips the trait
// update and memory write entirely. A fallback response still applies a
// negative-leaning signal but never persists the failed turn's content.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("HandleTurn: %w", err)
	}

	start := time.Now()
	turnID := uuid.NewString()
	logger := o.logger.With(
		zap.String("turn_id", turnID),
		zap.String("scope", req.Scope.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()

	memories, state, err := o.gatherContext(ctx, req, logger)
	if err != nil {
		return nil, fmt.Errorf("HandleTurn: %w", err)
	}

	system := ComposePersona(state, memories, req.Channel)

	text, executions, fallback, err := o.runGenerationLoop(ctx, req.Scope, system, req.UserMessage, logger)
	if err != nil {
		return nil, fmt.Errorf("HandleTurn: %w", err)
	}

	// Commit point: nothing below runs for a cancelled turn.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("HandleTurn: turn aborted: %w", ctx.Err())
	}

	signal := o.deriveSignal(req, start, fallback)

	newState, applyErr := o.deps.Engine.Apply(ctx, signal)
	if applyErr != nil {
		logger.Error("trait update failed, queued for async retry", zap.Error(applyErr))
		if o.deps.RetryQueue != nil {
			o.deps.RetryQueue.Enqueue(signal)
		}
		newState = state
	}

	message := text
	if fallback {
		message = o.cfg.FallbackMessage
	} else {
		o.writeTurnMemory(ctx, req, message, logger)
	}

	return &TurnResponse{
		TurnID:            turnID,
		AssistantMessage:  message,
		ToolCallsExecuted: executions,
		Personality:       newState,
		Fallback:          fallback,
	}, nil
}

// gatherContext fans out the memory retrieval and trait read. Both degrade
// on infrastructure failure; only cancellation propagates.
func (o *Orchestrator) gatherContext(ctx context.Context, req *TurnRequest, logger *zap.Logger) ([]*storage.Record, *traits.State, error) {
	var memories []*storage.Record
	var state *traits.State

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if o.deps.Retriever == nil {
			return nil
		}
		records, err := o.deps.Retriever.Retrieve(gctx, req.Scope, req.UserMessage)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			logger.Warn("memory retrieval failed, continuing without context", zap.Error(err))
			return nil
		}
		memories = records
		return nil
	})

	g.Go(func() error {
		s, err := o.deps.Traits.Get(gctx, req.Scope)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			logger.Warn("trait read failed, using default personality", zap.Error(err))
			state = traits.DefaultState(req.Scope)
			return nil
		}
		state = s
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("turn aborted: %w", err)
	}

	return memories, state, nil
}

// runGenerationLoop drives the provider through the bounded tool loop.
// It returns the final text, the executed tool calls, and whether the turn
// fell back. Only cancellation returns an error.
func (o *Orchestrator) runGenerationLoop(ctx context.Context, scope tenant.Scope, system, userMessage string, logger *zap.Logger) (string, []ToolExecution, bool, error) {
	transcript := []generation.Message{{Role: generation.RoleUser, Content: userMessage}}
	var executions []ToolExecution
	hops := 0

	for {
		completion, err := o.generate(ctx, &generation.Request{
			System:      system,
			Messages:    transcript,
			Tools:       o.deps.Tools,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, false, fmt.Errorf("turn aborted: %w", ctx.Err())
			}
			logger.Warn("generation retries exhausted, falling back", zap.Error(err))
			return "", executions, true, nil
		}

		if len(completion.ToolCalls) == 0 {
			return completion.Text, executions, false, nil
		}

		if hops >= o.cfg.MaxHops {
			logger.Warn("tool hop cap reached, falling back", zap.Int("max_hops", o.cfg.MaxHops))
			return "", executions, true, nil
		}
		hops++

		results := make([]generation.ToolResult, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			output, err := o.executeTool(ctx, scope, call)
			exec := ToolExecution{
				CallID:  call.ID,
				Name:    call.Name,
				Input:   call.Arguments,
				Result:  output,
				Success: err == nil,
			}
			if err != nil {
				if ctx.Err() != nil {
					return "", nil, false, fmt.Errorf("turn aborted: %w", ctx.Err())
				}
				exec.Error = err.Error()
				executions = append(executions, exec)
				logger.Warn("tool retries exhausted, falling back",
					zap.String("tool", call.Name), zap.Error(err))
				return "", executions, true, nil
			}
			executions = append(executions, exec)
			results = append(results, generation.ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: output,
			})
		}

		transcript = append(transcript,
			generation.Message{
				Role:      generation.RoleAssistant,
				Content:   completion.Text,
				ToolCalls: completion.ToolCalls,
			},
			generation.Message{
				Role:        generation.RoleUser,
				ToolResults: results,
			},
		)
	}
}

// generate calls the provider with a per-call timeout and retries with
// exponential backoff up to the attempt budget.
func (o *Orchestrator) generate(ctx context.Context, req *generation.Request) (*generation.Completion, error) {
	var lastErr error

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		completion, err := o.deps.Provider.Generate(callCtx, req)
		cancel()

		if err == nil {
			return completion, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt < o.cfg.MaxAttempts-1 {
			if err := o.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

// executeTool runs one tool call with the same timeout/retry discipline as
// generation.
func (o *Orchestrator) executeTool(ctx context.Context, scope tenant.Scope, call generation.ToolCall) (string, error) {
	var lastErr error

	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		output, err := o.deps.Executor.Execute(callCtx, scope, call.Name, call.Arguments)
		cancel()

		if err == nil {
			return output, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if attempt < o.cfg.MaxAttempts-1 {
			if err := o.backoff(ctx, attempt); err != nil {
				return "", err
			}
		}
	}

	return "", lastErr
}

// backoff sleeps base*2^attempt capped at the configured ceiling, honoring
// cancellation.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := o.cfg.BackoffBase << uint(attempt)
	if delay > o.cfg.BackoffCap {
		delay = o.cfg.BackoffCap
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deriveSignal builds the interaction signal for the adaptation engine.
func (o *Orchestrator) deriveSignal(req *TurnRequest, start time.Time, fallback bool) adaptation.Signal {
	latency := float64(time.Since(start).Milliseconds())
	succeeded := !fallback

	signal := adaptation.Signal{
		Scope:            req.Scope,
		ExplicitFeedback: req.Feedback,
		Implicit: adaptation.Implicit{
			LatencyMs:     &latency,
			TaskSucceeded: &succeeded,
			TurnLength:    utf8.RuneCountInString(req.UserMessage),
		},
		Timestamp: time.Now().UTC(),
	}

	if fallback {
		sentiment := fallbackSentiment
		signal.Implicit.SentimentScore = &sentiment
	}

	return signal
}

// writeTurnMemory stores the completed turn. Failures degrade with a warning.
func (o *Orchestrator) writeTurnMemory(ctx context.Context, req *TurnRequest, assistantMessage string, logger *zap.Logger) {
	if o.deps.Memory == nil || o.deps.Embedder == nil {
		return
	}

	content := fmt.Sprintf("user: %s\nassistant: %s", req.UserMessage, assistantMessage)

	embedding, err := o.deps.Embedder.Embed(ctx, content)
	if err != nil {
		logger.Warn("turn memory embed failed, turn not persisted", zap.Error(err))
		return
	}

	record := &storage.Record{
		ID:              o.deps.IDs.Generate().Int64(),
		Scope:           req.Scope,
		ConversationID:  req.ConversationID,
		Role:            "turn",
		Content:         content,
		Embedding:       embedding,
		CreatedAt:       time.Now().UTC(),
		ImportanceScore: turnImportance(req.Feedback),
	}

	if o.cfg.MemoryTTL > 0 {
		expires := record.CreatedAt.Add(o.cfg.MemoryTTL)
		record.ExpiresAt = &expires
	}

	if err := o.deps.Memory.Insert(ctx, record); err != nil {
		logger.Warn("turn memory write failed", zap.Error(err))
	}
}

// turnImportance scores a stored turn for the pruning policy: neutral by
// default, shifted by explicit feedback.
func turnImportance(feedback *float64) float64 {
	importance := 0.5
	if feedback != nil {
		importance += (*feedback - 0.5) * 0.4
	}
	if importance < 0 {
		return 0
	}
	if importance > 1 {
		return 1
	}
	return importance
}

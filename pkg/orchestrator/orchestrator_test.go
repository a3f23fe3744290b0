package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/buffrhost-sub000/pkg/adaptation"
	"github.com/thependalorian/buffrhost-sub000/pkg/generation"
	"github.com/thependalorian/buffrhost-sub000/pkg/orchestrator"
	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/tools"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits/inmemory"
)

func testScope() tenant.Scope {
	return tenant.Scope{TenantID: "tenant-a", PropertyID: "prop-1", AgentID: "agent-1"}
}

// scriptedProvider returns canned steps in order; a step with a non-nil err
// simulates a provider failure.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	completion *generation.Completion
	err        error
}

func (p *scriptedProvider) Generate(ctx context.Context, req *generation.Request) (*generation.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.steps) == 0 {
		return &generation.Completion{Text: "default reply"}, nil
	}

	step := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return step.completion, step.err
}

func (p *scriptedProvider) Close() error { return nil }

// recordingStore counts inserts.
type recordingStore struct {
	mu       sync.Mutex
	inserted []*storage.Record
	err      error
}

func (s *recordingStore) Insert(ctx context.Context, record *storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, record)
	return nil
}

func (s *recordingStore) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	return nil, nil
}
func (s *recordingStore) Delete(ctx context.Context, id int64, scope tenant.Scope) error { return nil }
func (s *recordingStore) List(ctx context.Context, scope tenant.Scope, opts *storage.ListOptions) ([]*storage.Record, error) {
	return nil, nil
}
func (s *recordingStore) Prune(ctx context.Context, scope tenant.Scope, policy storage.PrunePolicy) (int, error) {
	return 0, nil
}
func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

// fakeRetriever returns fixed records or an error.
type fakeRetriever struct {
	records []*storage.Record
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, scope tenant.Scope, query string) ([]*storage.Record, error) {
	return f.records, f.err
}

// fixedEmbedder avoids hashing in orchestrator tests.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0, 0, 0}, nil
}
func (fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{1, 0, 0, 0}
	}
	return out, nil
}
func (fixedEmbedder) Dimensions() int { return 4 }
func (fixedEmbedder) Close() error    { return nil }

type fixture struct {
	orch     *orchestrator.Orchestrator
	traits   *inmemory.Store
	memory   *recordingStore
	provider *scriptedProvider
}

func newFixture(t *testing.T, provider *scriptedProvider, cfg orchestrator.Config, defs []tools.Definition, executor tools.Executor) *fixture {
	t.Helper()

	traitStore := inmemory.New()
	engine, err := adaptation.NewEngine(traitStore, adaptation.Config{}, nil)
	require.NoError(t, err)

	memory := &recordingStore{}

	// Short backoff keeps retry tests fast.
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 2 * time.Millisecond
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Retriever: &fakeRetriever{},
		Traits:    traitStore,
		Engine:    engine,
		Provider:  provider,
		Executor:  executor,
		Tools:     defs,
		Memory:    memory,
		Embedder:  fixedEmbedder{},
	}, cfg, nil)
	require.NoError(t, err)

	return &fixture{orch: orch, traits: traitStore, memory: memory, provider: provider}
}

func turnRequest() *orchestrator.TurnRequest {
	return &orchestrator.TurnRequest{
		Scope:          testScope(),
		ConversationID: "conv-1",
		UserMessage:    "Can I get a late checkout tomorrow?",
		Channel:        "app",
	}
}

func TestSimpleTurnCompletes(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{Text: "Late checkout until 2pm is confirmed."}},
	}}
	f := newFixture(t, provider, orchestrator.Config{}, nil, nil)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.Equal(t, "Late checkout until 2pm is confirmed.", resp.AssistantMessage)
	assert.False(t, resp.Fallback)
	assert.NotEmpty(t, resp.TurnID)
	require.NotNil(t, resp.Personality)
	assert.Equal(t, int64(1), resp.Personality.InteractionCount)

	// The completed turn is persisted once.
	assert.Equal(t, 1, f.memory.count())
	assert.Contains(t, f.memory.inserted[0].Content, "late checkout")
	assert.Equal(t, "turn", f.memory.inserted[0].Role)
}

func TestGenerationFailsTwiceThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: errors.New("upstream timeout")},
		{err: errors.New("upstream timeout")},
		{completion: &generation.Completion{Text: "Here you go."}},
	}}
	f := newFixture(t, provider, orchestrator.Config{MaxAttempts: 3}, nil, nil)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.False(t, resp.Fallback)
	assert.Equal(t, "Here you go.", resp.AssistantMessage)
	assert.Equal(t, 3, provider.calls)
}

func TestGenerationBudgetExhaustedFallsBack(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: errors.New("upstream down")},
	}}
	f := newFixture(t, provider, orchestrator.Config{MaxAttempts: 2}, nil, nil)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, orchestrator.DefaultFallbackMessage, resp.AssistantMessage)
	assert.Equal(t, 2, provider.calls)

	// Failed content is never persisted, but the negative signal is applied.
	assert.Equal(t, 0, f.memory.count())
	state, err := f.traits.Get(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.InteractionCount)
}

func TestToolLoopTerminatesAtHopCap(t *testing.T) {
	// The provider always asks for another tool call.
	greedyCall := &generation.Completion{ToolCalls: []generation.ToolCall{
		{ID: "call-1", Name: "check_availability", Arguments: json.RawMessage(`{}`)},
	}}
	provider := &scriptedProvider{steps: []scriptedStep{{completion: greedyCall}}}

	var executed int
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.Definition{Name: "check_availability", Description: "always more"},
		func(ctx context.Context, scope tenant.Scope, input json.RawMessage) (string, error) {
			executed++
			return "still checking", nil
		}))

	f := newFixture(t, provider, orchestrator.Config{MaxHops: 3}, registry.Definitions(), registry)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, 3, executed)
	assert.Len(t, resp.ToolCallsExecuted, 3)
	assert.Equal(t, orchestrator.DefaultFallbackMessage, resp.AssistantMessage)
}

func TestToolResultFlowsBack(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{ToolCalls: []generation.ToolCall{
			{ID: "call-1", Name: "spa_slots", Arguments: json.RawMessage(`{"day":"friday"}`)},
		}}},
		{completion: &generation.Completion{Text: "The spa has a 4pm slot on Friday."}},
	}}

	var seenScope tenant.Scope
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.Definition{Name: "spa_slots", Description: "List open spa slots"},
		func(ctx context.Context, scope tenant.Scope, input json.RawMessage) (string, error) {
			seenScope = scope
			return "friday: 16:00", nil
		}))

	f := newFixture(t, provider, orchestrator.Config{}, registry.Definitions(), registry)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.False(t, resp.Fallback)
	require.Len(t, resp.ToolCallsExecuted, 1)
	assert.True(t, resp.ToolCallsExecuted[0].Success)
	assert.Equal(t, "friday: 16:00", resp.ToolCallsExecuted[0].Result)
	assert.Equal(t, "The spa has a 4pm slot on Friday.", resp.AssistantMessage)
	assert.True(t, seenScope.Equal(testScope()))
}

func TestToolFailureExhaustsBudgetAndFallsBack(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{ToolCalls: []generation.ToolCall{
			{ID: "call-1", Name: "broken", Arguments: json.RawMessage(`{}`)},
		}}},
	}}

	var attempts int
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(
		tools.Definition{Name: "broken", Description: "always fails"},
		func(ctx context.Context, scope tenant.Scope, input json.RawMessage) (string, error) {
			attempts++
			return "", errors.New("backend unavailable")
		}))

	f := newFixture(t, provider, orchestrator.Config{MaxAttempts: 3}, registry.Definitions(), registry)

	resp, err := f.orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, 3, attempts)
	require.Len(t, resp.ToolCallsExecuted, 1)
	assert.False(t, resp.ToolCallsExecuted[0].Success)
	assert.Equal(t, 0, f.memory.count())
}

func TestCancellationSkipsAllSideEffects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{Text: "done"}},
	}}
	f := newFixture(t, provider, orchestrator.Config{}, nil, nil)

	cancel()
	_, err := f.orch.HandleTurn(ctx, turnRequest())
	require.Error(t, err)

	assert.Equal(t, 0, f.memory.count())
	state, err := f.traits.Get(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.InteractionCount)
}

func TestMemoryOutageDegradesTurn(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{Text: "Of course, I can help."}},
	}}

	traitStore := inmemory.New()
	engine, err := adaptation.NewEngine(traitStore, adaptation.Config{}, nil)
	require.NoError(t, err)

	orch, err := orchestrator.New(orchestrator.Deps{
		Retriever: &fakeRetriever{err: storage.ErrUnavailable},
		Traits:    traitStore,
		Engine:    engine,
		Provider:  provider,
		Memory:    &recordingStore{err: storage.ErrUnavailable},
		Embedder:  fixedEmbedder{},
	}, orchestrator.Config{}, nil)
	require.NoError(t, err)

	resp, err := orch.HandleTurn(context.Background(), turnRequest())
	require.NoError(t, err)

	assert.False(t, resp.Fallback)
	assert.Equal(t, "Of course, I can help.", resp.AssistantMessage)
}

func TestExplicitFeedbackBoundedByMaxDelta(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{completion: &generation.Completion{Text: "Glad to help!"}},
	}}
	f := newFixture(t, provider, orchestrator.Config{}, nil, nil)

	feedback := 1.0
	req := turnRequest()
	req.Feedback = &feedback

	resp, err := f.orch.HandleTurn(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, resp.Personality)
	warmth := resp.Personality.Traits.Warmth
	assert.Greater(t, warmth, 0.5)
	assert.LessOrEqual(t, warmth, 0.5+adaptation.DefaultMaxDelta+1e-9)
	assert.Equal(t, int64(1), resp.Personality.InteractionCount)
}

func TestInvalidScopeRejected(t *testing.T) {
	provider := &scriptedProvider{}
	f := newFixture(t, provider, orchestrator.Config{}, nil, nil)

	_, err := f.orch.HandleTurn(context.Background(), &orchestrator.TurnRequest{
		Scope:       tenant.Scope{TenantID: "only-tenant"},
		UserMessage: "hello",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tenant.ErrInvalidScope))
}

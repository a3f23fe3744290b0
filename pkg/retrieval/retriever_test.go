package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/buffrhost-sub000/pkg/retrieval"
	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

// fakeStore returns scripted search results and counts calls.
type fakeStore struct {
	results []*storage.Record
	err     error
	lastOps []*storage.SearchOptions
}

func (f *fakeStore) Insert(ctx context.Context, record *storage.Record) error { return nil }

func (f *fakeStore) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	f.lastOps = append(f.lastOps, opts)
	return f.results, f.err
}

func (f *fakeStore) Delete(ctx context.Context, id int64, scope tenant.Scope) error { return nil }

func (f *fakeStore) List(ctx context.Context, scope tenant.Scope, opts *storage.ListOptions) ([]*storage.Record, error) {
	return nil, nil
}

func (f *fakeStore) Prune(ctx context.Context, scope tenant.Scope, policy storage.PrunePolicy) (int, error) {
	return 0, nil
}

func (f *fakeStore) Close() error { return nil }

// countingEmbedder wraps a fixed vector and counts Embed calls.
type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.calls++
	return []float64{1, 0, 0, 0}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v, _ := c.Embed(ctx, texts[i])
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 4 }
func (c *countingEmbedder) Close() error    { return nil }

func testScope() tenant.Scope {
	return tenant.Scope{TenantID: "tenant-a", PropertyID: "prop-1", AgentID: "agent-1"}
}

func TestRetrievePassesScopeAndDefaults(t *testing.T) {
	store := &fakeStore{}
	r, err := retrieval.NewRetriever(store, &countingEmbedder{}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Retrieve(context.Background(), testScope(), "any towels left?")
	require.NoError(t, err)

	require.Len(t, store.lastOps, 1)
	assert.True(t, store.lastOps[0].Scope.Equal(testScope()))
	assert.Equal(t, retrieval.DefaultTopK, store.lastOps[0].Limit)
	assert.Equal(t, retrieval.DefaultMinScore, store.lastOps[0].MinScore)
}

func TestNegativeMinScoreDisablesThreshold(t *testing.T) {
	store := &fakeStore{}
	r, err := retrieval.NewRetriever(store, &countingEmbedder{}, &retrieval.Config{MinScore: -0.1})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Retrieve(context.Background(), testScope(), "anything at all")
	require.NoError(t, err)

	// Cosine similarity bottoms out at -1, so this floor excludes nothing.
	require.Len(t, store.lastOps, 1)
	assert.Equal(t, -1.0, store.lastOps[0].MinScore)
}

func TestRetrieveRejectsInvalidScope(t *testing.T) {
	r, err := retrieval.NewRetriever(&fakeStore{}, &countingEmbedder{}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Retrieve(context.Background(), tenant.Scope{TenantID: "only"}, "query")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tenant.ErrInvalidScope))
}

func TestRetrieveDropsForeignScopeRecords(t *testing.T) {
	foreign := tenant.Scope{TenantID: "tenant-b", PropertyID: "prop-1", AgentID: "agent-1"}
	store := &fakeStore{
		results: []*storage.Record{
			{ID: 1, Scope: testScope(), Content: "ours"},
			{ID: 2, Scope: foreign, Content: "leaked"},
			{ID: 3, Scope: testScope(), Content: "also ours"},
		},
	}

	r, err := retrieval.NewRetriever(store, &countingEmbedder{}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	results, err := r.Retrieve(context.Background(), testScope(), "query")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(3), results[1].ID)
}

func TestRetrievePropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: storage.ErrUnavailable}
	r, err := retrieval.NewRetriever(store, &countingEmbedder{}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Retrieve(context.Background(), testScope(), "query")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	r, err := retrieval.NewRetriever(&fakeStore{}, &countingEmbedder{}, nil)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	results, err := r.Retrieve(context.Background(), testScope(), "first visit")
	require.NoError(t, err)
	assert.Empty(t, results)
}

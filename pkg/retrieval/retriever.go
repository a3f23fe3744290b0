// Package retrieval ranks stored memory fragments against the current guest
// turn.
//
// The retriever embeds the query, delegates the scope-filtered similarity
// search to the memory store, and re-verifies the scope of every result
// before handing it to the orchestrator. Query embeddings are cached so
// repeated phrasings of common requests skip the embedding provider.
package retrieval

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/thependalorian/buffrhost-sub000/pkg/embedder"
	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
)

const (
	// DefaultTopK is the number of fragments handed to prompt assembly.
	DefaultTopK = 5

	// DefaultMinScore is the similarity floor below which a fragment is
	// considered irrelevant to the current turn.
	DefaultMinScore = 0.3
)

// Config contains retriever configuration.
type Config struct {
	// TopK caps the number of returned fragments. Zero means DefaultTopK.
	TopK int

	// MinScore is the similarity threshold. Zero means DefaultMinScore;
	// use a negative value to disable the threshold entirely.
	MinScore float64

	// CacheMaxEntries bounds the query-embedding cache. Zero means 1024.
	CacheMaxEntries int64

	// Logger receives security events and degradation warnings.
	// Nil means a no-op logger.
	Logger *zap.Logger
}

// Retriever retrieves relevant memory fragments for one scope.
type Retriever struct {
	store    storage.MemoryStore
	embedder embedder.Provider
	cache    *ristretto.Cache
	logger   *zap.Logger
	topK     int
	minScore float64
}

// NewRetriever creates a retriever over the given store and embedder.
func NewRetriever(store storage.MemoryStore, provider embedder.Provider, cfg *Config) (*Retriever, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	minScore := cfg.MinScore
	if minScore == 0 {
		minScore = DefaultMinScore
	} else if minScore < 0 {
		// Cosine similarity never goes below -1, so nothing is excluded.
		minScore = -1
	}

	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("NewRetriever: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		store:    store,
		embedder: provider,
		cache:    cache,
		logger:   logger,
		topK:     topK,
		minScore: minScore,
	}, nil
}

// Retrieve returns the scope's most relevant fragments for the query,
// ranked by similarity with recency breaking ties.
//
// An empty result is normal for a new guest. Backend failures are returned
// to the caller, which decides whether the turn degrades or fails.
func (r *Retriever) Retrieve(ctx context.Context, scope tenant.Scope, query string) ([]*storage.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("Retrieve: %w", err)
	}

	embedding, err := r.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Retrieve: embed query: %w", err)
	}

	results, err := r.store.Search(ctx, embedding, &storage.SearchOptions{
		Scope:    scope,
		Limit:    r.topK,
		MinScore: r.minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("Retrieve: %w", err)
	}

	// The store already filters by scope; this second check catches a
	// misbehaving backend before anything crosses into the prompt.
	filtered := results[:0]
	for _, record := range results {
		if !record.Scope.Equal(scope) {
			r.logger.Error("cross-tenant record dropped from retrieval results",
				zap.Bool("security_event", true),
				zap.Int64("record_id", record.ID),
				zap.String("caller_scope", scope.String()),
				zap.String("record_scope", record.Scope.String()),
			)
			continue
		}
		filtered = append(filtered, record)
	}

	return filtered, nil
}

// queryEmbedding returns the embedding for a query, consulting the cache
// first. Embeddings depend only on the text, so the cache is shared across
// scopes without leaking any stored content.
func (r *Retriever) queryEmbedding(ctx context.Context, query string) ([]float64, error) {
	if cached, found := r.cache.Get(query); found {
		if embedding, ok := cached.([]float64); ok {
			return embedding, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	r.cache.Set(query, embedding, 1)
	return embedding, nil
}

// Close releases the embedding cache.
func (r *Retriever) Close() error {
	r.cache.Close()
	return nil
}

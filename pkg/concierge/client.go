package concierge

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/thependalorian/buffrhost-sub000/pkg/adaptation"
	"github.com/thependalorian/buffrhost-sub000/pkg/embedder"
	mockEmbedder "github.com/thependalorian/buffrhost-sub000/pkg/embedder/mock"
	openaiEmbedder "github.com/thependalorian/buffrhost-sub000/pkg/embedder/openai"
	"github.com/thependalorian/buffrhost-sub000/pkg/generation"
	anthropicGen "github.com/thependalorian/buffrhost-sub000/pkg/generation/anthropic"
	openaiGen "github.com/thependalorian/buffrhost-sub000/pkg/generation/openai"
	"github.com/thependalorian/buffrhost-sub000/pkg/orchestrator"
	"github.com/thependalorian/buffrhost-sub000/pkg/retrieval"
	"github.com/thependalorian/buffrhost-sub000/pkg/storage"
	mysqlStore "github.com/thependalorian/buffrhost-sub000/pkg/storage/mysql"
	postgresStore "github.com/thependalorian/buffrhost-sub000/pkg/storage/postgres"
	sqliteStore "github.com/thependalorian/buffrhost-sub000/pkg/storage/sqlite"
	"github.com/thependalorian/buffrhost-sub000/pkg/tenant"
	"github.com/thependalorian/buffrhost-sub000/pkg/tools"
	"github.com/thependalorian/buffrhost-sub000/pkg/traits"
	traitsInmemory "github.com/thependalorian/buffrhost-sub000/pkg/traits/inmemory"
	traitsSqlite "github.com/thependalorian/buffrhost-sub000/pkg/traits/sqlite"
)

// Client is the concierge facade: it owns the stores, providers, adaptation
// engine and orchestrator, and exposes the turn and admin endpoints.
type Client struct {
	config *Config
	logger *zap.Logger

	memory     storage.MemoryStore
	traitStore traits.Store
	embedder   embedder.Provider
	provider   generation.Provider
	retriever  *retrieval.Retriever
	engine     *adaptation.Engine
	queue      *adaptation.RetryQueue
	orch       *orchestrator.Orchestrator
	node       *snowflake.Node
}

// Option configures optional collaborators on the client.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	provider   generation.Provider
	embedder   embedder.Provider
	memory     storage.MemoryStore
	traitStore traits.Store
	executor   tools.Executor
	defs       []tools.Definition
}

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGenerationProvider overrides the configured generation provider,
// mainly for tests and examples with scripted providers.
func WithGenerationProvider(p generation.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithEmbedder overrides the configured embedding provider.
func WithEmbedder(p embedder.Provider) Option {
	return func(o *options) { o.embedder = p }
}

// WithMemoryStore overrides the configured memory store.
func WithMemoryStore(s storage.MemoryStore) Option {
	return func(o *options) { o.memory = s }
}

// WithTraitStore overrides the configured trait store.
func WithTraitStore(s traits.Store) Option {
	return func(o *options) { o.traitStore = s }
}

// WithTools registers the tool capability set offered to the provider.
func WithTools(executor tools.Executor, defs []tools.Definition) Option {
	return func(o *options) {
		o.executor = executor
		o.defs = defs
	}
}

// New creates a concierge client from configuration.
//
// Example:
//
//	config, _ := concierge.LoadConfigFromEnv()
//	client, err := concierge.New(config, concierge.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	memory := o.memory
	if memory == nil {
		store, err := initMemoryStore(cfg.MemoryStore)
		if err != nil {
			return nil, err
		}
		memory = store
	}

	traitStore := o.traitStore
	if traitStore == nil {
		store, err := initTraitStore(cfg.TraitStore)
		if err != nil {
			return nil, err
		}
		traitStore = store
	}

	embedderProvider := o.embedder
	if embedderProvider == nil {
		p, err := initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
		embedderProvider = p
	}

	generationProvider := o.provider
	if generationProvider == nil {
		p, err := initGeneration(cfg.Generation)
		if err != nil {
			return nil, err
		}
		generationProvider = p
	}

	retriever, err := retrieval.NewRetriever(memory, embedderProvider, &retrieval.Config{
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
		Logger:   logger,
	})
	if err != nil {
		return nil, NewError("New", err)
	}

	engine, err := adaptation.NewEngine(traitStore, adaptation.Config{
		PriorStrength: cfg.Adaptation.PriorStrength,
		MaxDelta:      cfg.Adaptation.MaxDelta,
		DecayRate:     cfg.Adaptation.DecayRate,
		DecayHorizon:  cfg.Adaptation.decayHorizon(),
		MaxRetries:    cfg.Adaptation.MaxRetries,
	}, logger)
	if err != nil {
		return nil, NewError("New", err)
	}

	queue := adaptation.NewRetryQueue(engine, 0, 0, logger)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewError("New", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Retriever:  retriever,
		Traits:     traitStore,
		Engine:     engine,
		RetryQueue: queue,
		Provider:   generationProvider,
		Executor:   o.executor,
		Tools:      o.defs,
		Memory:     memory,
		Embedder:   embedderProvider,
		IDs:        node,
	}, orchestrator.Config{
		MaxHops:      cfg.Turn.MaxHops,
		MaxAttempts:  cfg.Turn.MaxAttempts,
		CallTimeout:  time.Duration(cfg.Turn.CallTimeoutS) * time.Second,
		TurnDeadline: time.Duration(cfg.Turn.TurnDeadlineS) * time.Second,
		MemoryTTL:    time.Duration(cfg.Turn.MemoryTTLH) * time.Hour,
		MaxTokens:    cfg.Turn.MaxTokens,
		Temperature:  cfg.Turn.Temperature,
	}, logger)
	if err != nil {
		return nil, NewError("New", err)
	}

	return &Client{
		config:     cfg,
		logger:     logger,
		memory:     memory,
		traitStore: traitStore,
		embedder:   embedderProvider,
		provider:   generationProvider,
		retriever:  retriever,
		engine:     engine,
		queue:      queue,
		orch:       orch,
		node:       node,
	}, nil
}

// HandleTurn runs one conversation turn.
func (c *Client) HandleTurn(ctx context.Context, req *orchestrator.TurnRequest) (*orchestrator.TurnResponse, error) {
	resp, err := c.orch.HandleTurn(ctx, req)
	if err != nil {
		return nil, NewError("HandleTurn", err)
	}
	return resp, nil
}

// PersonalitySnapshot returns the current trait state for a scope. Read-only:
// the adaptation engine owns the only write path.
func (c *Client) PersonalitySnapshot(ctx context.Context, scope tenant.Scope) (*traits.State, error) {
	if err := scope.Validate(); err != nil {
		return nil, NewError("PersonalitySnapshot", err)
	}

	state, err := c.traitStore.Get(ctx, scope)
	if err != nil {
		return nil, NewError("PersonalitySnapshot", err)
	}
	return state, nil
}

// ListMemories returns a scope's stored fragments newest-first, for
// compliance review.
func (c *Client) ListMemories(ctx context.Context, scope tenant.Scope, limit, offset int) ([]*storage.Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, NewError("ListMemories", err)
	}

	records, err := c.memory.List(ctx, scope, &storage.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, NewError("ListMemories", err)
	}
	return records, nil
}

// DeleteMemory removes one record for a data-subject deletion request. A
// scope mismatch is logged as a security event and returned unchanged.
func (c *Client) DeleteMemory(ctx context.Context, id int64, scope tenant.Scope) error {
	if err := scope.Validate(); err != nil {
		return NewError("DeleteMemory", err)
	}

	if err := c.memory.Delete(ctx, id, scope); err != nil {
		var mismatch *storage.ScopeMismatchError
		if errors.As(err, &mismatch) {
			c.logger.Error("cross-tenant delete attempt blocked",
				zap.Bool("security_event", true),
				zap.Int64("record_id", mismatch.ID),
				zap.String("caller_scope", mismatch.Want.String()),
				zap.String("record_scope", mismatch.Got.String()),
			)
		}
		return NewError("DeleteMemory", err)
	}
	return nil
}

// PruneMemories removes expired and low-importance records for one scope,
// returning the number removed.
func (c *Client) PruneMemories(ctx context.Context, scope tenant.Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, NewError("PruneMemories", err)
	}

	minImportance := c.config.Turn.PruneMinImportance
	if minImportance <= 0 {
		minImportance = 0.2
	}

	removed, err := c.memory.Prune(ctx, scope, storage.PrunePolicy{
		Now:           time.Now().UTC(),
		MinImportance: minImportance,
	})
	if err != nil {
		return 0, NewError("PruneMemories", err)
	}
	return removed, nil
}

// Close releases every owned resource. The retry queue drains first so
// pending trait updates still land.
func (c *Client) Close() error {
	c.queue.Close()

	var errs []error
	if err := c.retriever.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.provider.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.traitStore.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.memory.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return NewError("Close", errs[0])
	}
	return nil
}

// initMemoryStore initializes the memory store backend.
func initMemoryStore(cfg StoreConfig) (storage.MemoryStore, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             getString(cfg.Config, "db_path", "./concierge.db"),
			CollectionName:     getString(cfg.Config, "collection_name", "memories"),
			EmbeddingModelDims: getInt(cfg.Config, "embedding_model_dims", 1536),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               getString(cfg.Config, "host", "localhost"),
			Port:               getInt(cfg.Config, "port", 5432),
			User:               getString(cfg.Config, "user", "postgres"),
			Password:           getString(cfg.Config, "password", ""),
			DBName:             getString(cfg.Config, "db_name", "concierge"),
			CollectionName:     getString(cfg.Config, "collection_name", "memories"),
			EmbeddingModelDims: getInt(cfg.Config, "embedding_model_dims", 1536),
			SSLMode:            getString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:               getString(cfg.Config, "host", "127.0.0.1"),
			Port:               getInt(cfg.Config, "port", 3306),
			User:               getString(cfg.Config, "user", "root"),
			Password:           getString(cfg.Config, "password", ""),
			DBName:             getString(cfg.Config, "db_name", "concierge"),
			CollectionName:     getString(cfg.Config, "collection_name", "memories"),
			EmbeddingModelDims: getInt(cfg.Config, "embedding_model_dims", 1536),
		})
	default:
		return nil, NewError("initMemoryStore", ErrUnknownProvider)
	}
}

// initTraitStore initializes the personality store backend.
func initTraitStore(cfg TraitStoreConfig) (traits.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return traitsSqlite.New(&traitsSqlite.Config{DBPath: cfg.DBPath})
	case "inmemory":
		return traitsInmemory.New(), nil
	default:
		return nil, NewError("initTraitStore", ErrUnknownProvider)
	}
}

// initEmbedder initializes the embedding provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "mock":
		return mockEmbedder.NewClient(cfg.Dimensions), nil
	default:
		return nil, NewError("initEmbedder", ErrUnknownProvider)
	}
}

// initGeneration initializes the generation provider.
func initGeneration(cfg GenerationConfig) (generation.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiGen.NewClient(&openaiGen.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return anthropicGen.NewClient(&anthropicGen.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewError("initGeneration", ErrUnknownProvider)
	}
}

func getString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

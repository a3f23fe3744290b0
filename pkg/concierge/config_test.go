package concierge_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/buffrhost-sub000/pkg/concierge"
)

func TestLoadConfigFromJSON(t *testing.T) {
	raw := `{
		"generation": {"provider": "anthropic", "api_key": "sk-test", "model": "claude-sonnet-4-20250514"},
		"embedder": {"provider": "openai", "api_key": "sk-test", "dimensions": 1536},
		"memory_store": {"provider": "postgres", "config": {"host": "db.internal", "port": 5432}},
		"trait_store": {"provider": "sqlite", "db_path": "/var/lib/concierge/traits.db"},
		"adaptation": {"prior_strength": 8, "max_delta": 0.1, "decay_horizon_hours": 48},
		"retrieval": {"top_k": 8, "min_score": 0.25},
		"turn": {"max_hops": 2, "call_timeout_seconds": 15, "memory_ttl_hours": 720}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := concierge.LoadConfigFromJSON(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "anthropic", cfg.Generation.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Generation.Model)
	assert.Equal(t, 1536, cfg.Embedder.Dimensions)
	assert.Equal(t, "postgres", cfg.MemoryStore.Provider)
	assert.Equal(t, "db.internal", cfg.MemoryStore.Config["host"])
	assert.Equal(t, "/var/lib/concierge/traits.db", cfg.TraitStore.DBPath)
	assert.Equal(t, 8.0, cfg.Adaptation.PriorStrength)
	assert.Equal(t, 48, cfg.Adaptation.DecayHorizonH)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 2, cfg.Turn.MaxHops)
	assert.Equal(t, 720, cfg.Turn.MemoryTTLH)
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := concierge.LoadConfigFromJSON("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestValidateRejectsMissingProviders(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*concierge.Config)
	}{
		{"generation", func(c *concierge.Config) { c.Generation.Provider = "" }},
		{"embedder", func(c *concierge.Config) { c.Embedder.Provider = "" }},
		{"memory store", func(c *concierge.Config) { c.MemoryStore.Provider = "" }},
		{"trait store", func(c *concierge.Config) { c.TraitStore.Provider = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), concierge.ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Run from a temp dir so no stray .env file five levels up interferes.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("GENERATION_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_API_KEY", "sk-test")

	cfg, err := concierge.LoadConfigFromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "anthropic", cfg.Generation.Provider)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "sqlite", cfg.MemoryStore.Provider)
	assert.Equal(t, "sqlite", cfg.TraitStore.Provider)
}

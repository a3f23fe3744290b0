package concierge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a concierge client.
//
// It includes settings for:
//   - Generation provider (assistant responses)
//   - Embedding provider (memory vectors)
//   - Memory store (conversation fragments)
//   - Trait store (personality state)
//   - Adaptation, retrieval and turn budgets
//
// Example:
//
//	config := &concierge.Config{
//	    Generation: concierge.GenerationConfig{
//	        Provider: "anthropic",
//	        APIKey:   "sk-...",
//	    },
//	    Embedder: concierge.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Dimensions: 1536,
//	    },
//	    MemoryStore: concierge.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./concierge.db",
//	        },
//	    },
//	    TraitStore: concierge.TraitStoreConfig{
//	        Provider: "sqlite",
//	        DBPath:   "./concierge.db",
//	    },
//	}
type Config struct {
	// Generation contains generation provider configuration.
	Generation GenerationConfig `json:"generation"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// MemoryStore contains memory store configuration.
	MemoryStore StoreConfig `json:"memory_store"`

	// TraitStore contains personality store configuration.
	TraitStore TraitStoreConfig `json:"trait_store"`

	// Adaptation contains adaptation engine tuning (optional).
	Adaptation AdaptationConfig `json:"adaptation,omitempty"`

	// Retrieval contains retrieval tuning (optional).
	Retrieval RetrievalConfig `json:"retrieval,omitempty"`

	// Turn contains per-turn budgets (optional).
	Turn TurnConfig `json:"turn,omitempty"`
}

// GenerationConfig contains configuration for the generation provider.
//
// Supported providers: openai, anthropic
type GenerationConfig struct {
	// Provider is the generation provider name (openai, anthropic).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (optional, provider default if empty).
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, mock
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, mock).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (optional).
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors.
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the memory store.
//
// Supported providers: sqlite, postgres, mysql
type StoreConfig struct {
	// Provider is the memory store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	// For MySQL: host, port, user, password, db_name, collection_name, embedding_model_dims
	Config map[string]interface{} `json:"config"`
}

// TraitStoreConfig contains configuration for the personality store.
//
// Supported providers: sqlite, inmemory
type TraitStoreConfig struct {
	// Provider is the trait store provider name (sqlite, inmemory).
	Provider string `json:"provider"`

	// DBPath is the SQLite database path (sqlite provider only).
	DBPath string `json:"db_path,omitempty"`
}

// AdaptationConfig exposes the adaptation engine's tunables.
type AdaptationConfig struct {
	PriorStrength float64 `json:"prior_strength,omitempty"`
	MaxDelta      float64 `json:"max_delta,omitempty"`
	DecayRate     float64 `json:"decay_rate,omitempty"`
	DecayHorizonH int     `json:"decay_horizon_hours,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
}

// RetrievalConfig exposes the retriever's tunables.
type RetrievalConfig struct {
	TopK     int     `json:"top_k,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

// TurnConfig exposes the orchestrator's budgets.
type TurnConfig struct {
	MaxHops       int     `json:"max_hops,omitempty"`
	MaxAttempts   int     `json:"max_attempts,omitempty"`
	CallTimeoutS  int     `json:"call_timeout_seconds,omitempty"`
	TurnDeadlineS int     `json:"turn_deadline_seconds,omitempty"`
	MemoryTTLH    int     `json:"memory_ttl_hours,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`

	// PruneMinImportance is the floor used by PruneMemories. Zero means
	// 0.2.
	PruneMinImportance float64 `json:"prune_min_importance,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for a .env file (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - MEMORY_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_COLLECTION, SQLITE_EMBEDDING_MODEL_DIMS
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, etc.
//   - TRAITS_PROVIDER (sqlite, inmemory), TRAITS_SQLITE_PATH
//   - GENERATION_PROVIDER, GENERATION_API_KEY, GENERATION_MODEL, GENERATION_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_DIMS
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	memoryProvider := getEnvOrDefault("MEMORY_PROVIDER", "sqlite")
	memoryConfig := make(map[string]interface{})

	switch memoryProvider {
	case "sqlite":
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))
		memoryConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./concierge.db"),
			"collection_name":      getEnvOrDefault("SQLITE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))
		memoryConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "concierge"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		dims, _ := strconv.Atoi(getEnvOrDefault("MYSQL_EMBEDDING_MODEL_DIMS", "1536"))
		memoryConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":                 port,
			"user":                 getEnvOrDefault("MYSQL_USER", "root"),
			"password":             os.Getenv("MYSQL_PASSWORD"),
			"db_name":              getEnvOrDefault("MYSQL_DATABASE", "concierge"),
			"collection_name":      getEnvOrDefault("MYSQL_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	}

	generationProvider := getEnvOrDefault("GENERATION_PROVIDER", "anthropic")
	embeddingProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embeddingDims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMS", "1536"))

	config := &Config{
		Generation: GenerationConfig{
			Provider: generationProvider,
			APIKey:   os.Getenv("GENERATION_API_KEY"),
			Model:    os.Getenv("GENERATION_MODEL"),
			BaseURL:  os.Getenv("GENERATION_BASE_URL"),
		},
		Embedder: EmbedderConfig{
			Provider:   embeddingProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: embeddingDims,
		},
		MemoryStore: StoreConfig{
			Provider: memoryProvider,
			Config:   memoryConfig,
		},
		TraitStore: TraitStoreConfig{
			Provider: getEnvOrDefault("TRAITS_PROVIDER", "sqlite"),
			DBPath:   getEnvOrDefault("TRAITS_SQLITE_PATH", "./concierge_traits.db"),
		},
	}

	return config, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required providers are set. API keys are checked by the
// provider constructors.
func (c *Config) Validate() error {
	if c.Generation.Provider == "" {
		return NewError("Validate", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return NewError("Validate", ErrInvalidConfig)
	}
	if c.MemoryStore.Provider == "" {
		return NewError("Validate", ErrInvalidConfig)
	}
	if c.TraitStore.Provider == "" {
		return NewError("Validate", ErrInvalidConfig)
	}
	return nil
}

// decayHorizon converts the configured hours to a duration, zero preserved.
func (a AdaptationConfig) decayHorizon() time.Duration {
	return time.Duration(a.DecayHorizonH) * time.Hour
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for a .env file in the current directory and up to
// five levels above it.
//
// Returns the path and true when found.
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}

	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

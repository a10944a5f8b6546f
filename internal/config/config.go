// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (RAGPAL_* plus provider API keys)
//  2. Config file (~/.ragpal/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast with sentinel errors so callers can branch with
// errors.Is. Sensitive values (the postgres password) never appear in logs.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the generation model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedder indicates the embedder model or dimension is invalid.
	ErrInvalidEmbedder = errors.New("invalid embedder configuration")

	// ErrInvalidTopK indicates retrieval.top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidMinScore indicates retrieval.min_score is out of range.
	ErrInvalidMinScore = errors.New("invalid min_score")

	// ErrInvalidChunking indicates the chunk size/overlap pair is unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidHistory indicates the history window is out of range.
	ErrInvalidHistory = errors.New("invalid history window")

	// ErrInvalidPromptBudget indicates the prompt budget is too small.
	ErrInvalidPromptBudget = errors.New("invalid prompt budget")

	// ErrInvalidStoreBackend indicates an unknown vector store backend.
	ErrInvalidStoreBackend = errors.New("invalid store backend")

	// ErrInvalidPostgres indicates the postgres connection settings are invalid.
	ErrInvalidPostgres = errors.New("invalid postgres configuration")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Vector store backend identifiers used in Config.StoreBackend.
const (
	StorePgvector = "pgvector"
	StoreMemory   = "memory"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration.
	Provider      string  `mapstructure:"provider"`
	ModelName     string  `mapstructure:"model_name"`
	Temperature   float32 `mapstructure:"temperature"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	// EmbedderDim is the fixed embedding dimension D. The pgvector column is
	// declared with this dimension; changing it requires re-ingestion.
	EmbedderDim int    `mapstructure:"embedder_dim"`
	OllamaHost  string `mapstructure:"ollama_host"`

	// Retrieval configuration.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Chunking policy for ingestion.
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Conversation configuration.
	// MaxHistoryTurns is the number of past exchanges (user/assistant
	// pairs) passed to the prompt composer. The stored history is never
	// trimmed.
	MaxHistoryTurns int `mapstructure:"max_history_turns"`
	// MaxPromptChars bounds the composed prompt; see prompt.Composer for the
	// trimming priority.
	MaxPromptChars int `mapstructure:"max_prompt_chars"`
	// StreamTimeoutSeconds bounds one generation stream end to end.
	StreamTimeoutSeconds int `mapstructure:"stream_timeout_seconds"`

	// Vector store backend: "pgvector" (default) or "memory" (volatile,
	// for development and the ask command).
	StoreBackend string `mapstructure:"store_backend"`

	// Postgres connection (pgvector backend only).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Serve-mode settings.
	TrustProxy bool `mapstructure:"trust_proxy"`
	RateBurst  int  `mapstructure:"rate_burst"`

	// Tracing (optional; empty endpoint disables export).
	Otel OtelConfig `mapstructure:"otel"`
}

// RetrievalConfig controls query-time retrieval.
type RetrievalConfig struct {
	// Enabled is the default for requests that do not carry an explicit
	// retrieval flag.
	Enabled bool `mapstructure:"enabled"`
	// TopK is the number of chunks fetched per query.
	TopK int `mapstructure:"top_k"`
	// MinScore filters hits below this cosine similarity before prompt
	// composition. 0 disables filtering, which matches the historical
	// behavior; the knob exists so the policy is explicit.
	MinScore float32 `mapstructure:"min_score"`
}

// OtelConfig configures the OTLP HTTP trace exporter.
type OtelConfig struct {
	Endpoint    string `mapstructure:"endpoint"` // host:port, e.g. localhost:4318
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration with env > file > defaults priority.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragpal")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("embedder_dim", 768)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("retrieval.enabled", true)
	viper.SetDefault("retrieval.top_k", 4)
	viper.SetDefault("retrieval.min_score", 0.0)

	viper.SetDefault("chunk_size", 1200)
	viper.SetDefault("chunk_overlap", 120)

	viper.SetDefault("max_history_turns", 10)
	viper.SetDefault("max_prompt_chars", 24000)
	viper.SetDefault("stream_timeout_seconds", 120)

	viper.SetDefault("store_backend", StorePgvector)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "ragpal")
	viper.SetDefault("postgres_password", "ragpal_dev_password")
	viper.SetDefault("postgres_db_name", "ragpal")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.service_name", "ragpal")
	viper.SetDefault("otel.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by
// the genkit plugins, not through viper; Validate checks their presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: binding %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "RAGPAL_PROVIDER")
	mustBind("model_name", "RAGPAL_MODEL_NAME")
	mustBind("embedder_model", "RAGPAL_EMBEDDER_MODEL")
	mustBind("ollama_host", "RAGPAL_OLLAMA_HOST")
	mustBind("store_backend", "RAGPAL_STORE_BACKEND")
	mustBind("retrieval.enabled", "RAGPAL_RETRIEVAL_ENABLED")
	mustBind("retrieval.top_k", "RAGPAL_TOP_K")
	mustBind("trust_proxy", "RAGPAL_TRUST_PROXY")
	mustBind("rate_burst", "RAGPAL_RATE_BURST")
	mustBind("otel.endpoint", "RAGPAL_OTEL_ENDPOINT")
}

package config

import (
	"fmt"
	"os"
)

// Validation bounds. Retrieval k is capped to keep prompt composition
// bounded; the chunk window must leave room for forward progress after
// overlap is subtracted.
const (
	MaxTopK            = 20
	MinChunkSize       = 64
	MaxChunkSize       = 8192
	MinPromptChars     = 1024
	MaxHistoryTurnsCap = 200
)

// Validate checks the full configuration, fail-fast with sentinel errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is required for provider %q", ErrInvalidProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidEmbedder)
	}
	if c.EmbedderDim <= 0 {
		return fmt.Errorf("%w: embedder_dim must be positive, got %d", ErrInvalidEmbedder, c.EmbedderDim)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be in [1, %d], got %d", ErrInvalidTopK, MaxTopK, c.Retrieval.TopK)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be in [0, 1], got %g", ErrInvalidMinScore, c.Retrieval.MinScore)
	}

	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk_size must be in [%d, %d], got %d",
			ErrInvalidChunking, MinChunkSize, MaxChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d",
			ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.MaxHistoryTurns < 0 || c.MaxHistoryTurns > MaxHistoryTurnsCap {
		return fmt.Errorf("%w: max_history_turns must be in [0, %d], got %d",
			ErrInvalidHistory, MaxHistoryTurnsCap, c.MaxHistoryTurns)
	}
	if c.MaxPromptChars < MinPromptChars {
		return fmt.Errorf("%w: max_prompt_chars must be at least %d, got %d",
			ErrInvalidPromptBudget, MinPromptChars, c.MaxPromptChars)
	}
	if c.StreamTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: stream_timeout_seconds must be positive, got %d",
			ErrInvalidPromptBudget, c.StreamTimeoutSeconds)
	}

	switch c.StoreBackend {
	case StorePgvector:
		if err := c.validatePostgres(); err != nil {
			return err
		}
	case StoreMemory:
		// No storage settings to check.
	default:
		return fmt.Errorf("%w: %q (supported: pgvector, memory)", ErrInvalidStoreBackend, c.StoreBackend)
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port must be in [1, 65535], got %d", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("%w: postgres_user is empty", ErrInvalidPostgres)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name is empty", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		return nil
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ragpal/ragpal/db"
	"github.com/ragpal/ragpal/internal/config"
	"github.com/ragpal/ragpal/internal/embed"
	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/prompt"
	"github.com/ragpal/ragpal/internal/retrieve"
	"github.com/ragpal/ragpal/internal/session"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// sessionIdleTTL bounds how long an untouched session survives.
const sessionIdleTTL = 30 * time.Minute

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	store, pool, dbCleanup, err := provideStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.DBPool = pool
	a.dbCleanup = dbCleanup

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	embedClient := embed.New(embedder, cfg.EmbedderDim, logger)

	a.Knowledge = knowledge.NewManager(embedClient, store, cfg.ChunkSize, cfg.ChunkOverlap, logger)
	a.Retriever = retrieve.New(embedClient, store,
		cfg.Retrieval.Enabled, cfg.Retrieval.TopK, cfg.Retrieval.MinScore, logger)

	composer := prompt.New(cfg.MaxPromptChars, cfg.MaxHistoryTurns)
	model := generate.NewGenkitClient(g, qualifiedModelName(cfg), float64(cfg.Temperature))
	a.Coordinator = generate.NewCoordinator(model, a.Retriever, composer,
		time.Duration(cfg.StreamTimeoutSeconds)*time.Second, logger)

	a.Sessions = session.NewManager(sessionIdleTTL, logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	go a.Sessions.Run(runCtx)

	return a, nil
}

// provideOtelShutdown sets up OTLP HTTP trace export. An empty endpoint
// disables export entirely.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.Otel.Endpoint == "" {
		return func() {}
	}

	// Genkit's TracerProvider reads these during Init.
	// SAFETY: os.Setenv is not concurrent-safe, but this runs exactly once
	// during startup before goroutines are spawned.
	if cfg.Otel.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.Otel.ServiceName)
	}
	if cfg.Otel.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Otel.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Otel.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Otel.Endpoint,
		"service", cfg.Otel.ServiceName,
		"environment", cfg.Otel.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideStore creates the configured vector store backend. The pgvector
// backend runs migrations and returns the pool for readiness checks; the
// memory backend is volatile and needs no cleanup.
func provideStore(ctx context.Context, cfg *config.Config, logger log.Logger) (vectorstore.Store, *pgxpool.Pool, func(), error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Info("using in-memory vector store, knowledge base is volatile")
		return vectorstore.NewMemory(), nil, func() {}, nil
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return vectorstore.NewPg(pool), pool, pool.Close, nil
}

// provideGenkit initializes genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models must be registered explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModelName returns the provider-prefixed model reference genkit
// resolves at generation time.
func qualifiedModelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default: // gemini
		return "googleai/" + cfg.ModelName
	}
}

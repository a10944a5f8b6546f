// Package app assembles the application: configuration in, wired
// components out.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragpal/ragpal/internal/config"
	"github.com/ragpal/ragpal/internal/generate"
	"github.com/ragpal/ragpal/internal/knowledge"
	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/retrieve"
	"github.com/ragpal/ragpal/internal/session"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// App holds the wired application components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Store       vectorstore.Store
	DBPool      *pgxpool.Pool // nil with the memory backend
	Knowledge   *knowledge.Manager
	Retriever   *retrieve.Retriever
	Sessions    *session.Manager
	Coordinator *generate.Coordinator

	cancel      context.CancelFunc
	dbCleanup   func()
	otelCleanup func()
}

// Close releases everything Setup initialized. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

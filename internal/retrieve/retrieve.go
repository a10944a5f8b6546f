// Package retrieve answers "what does the knowledge base know about this
// query": embed the query, rank stored chunks by cosine similarity, return
// the top k.
//
// Retrieval is advisory. A chat turn must not die because the knowledge
// base is unreachable, so infrastructure failures degrade to an empty
// result with a log line instead of an error.
package retrieve

import (
	"context"

	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

// Hit is one retrieved chunk with its similarity score.
type Hit struct {
	DocumentID string
	ChunkID    string
	Text       string
	Score      float32
}

// Result holds the retrieved context for a query, best hits first.
type Result struct {
	Hits []Hit
}

// Empty reports whether retrieval produced nothing usable.
func (r Result) Empty() bool { return len(r.Hits) == 0 }

// Embedder turns a query into a vector comparable with stored chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever performs top-k similarity search over the vector store.
type Retriever struct {
	embedder Embedder
	store    vectorstore.Store
	logger   log.Logger

	enabled  bool
	topK     int
	minScore float32
}

// New creates a Retriever returning at most topK hits with score at least
// minScore (0 keeps everything). A disabled Retriever returns empty
// results without touching the embedder or the store.
func New(embedder Embedder, store vectorstore.Store, enabled bool, topK int, minScore float32, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		logger:   logger,
		enabled:  enabled,
		topK:     topK,
		minScore: minScore,
	}
}

// Options carries per-request overrides of the configured retrieval policy.
type Options struct {
	// Enabled overrides the configured default when set.
	Enabled *bool
	// TopK overrides the configured hit count when positive.
	TopK int
}

// Retrieve returns the chunks most similar to query, descending by score,
// ties broken by store order. Embedding or store failure yields an empty
// Result, never an error: the caller composes an ungrounded prompt instead.
func (r *Retriever) Retrieve(ctx context.Context, query string) Result {
	return r.RetrieveWith(ctx, query, Options{})
}

// RetrieveWith is Retrieve with per-request overrides.
func (r *Retriever) RetrieveWith(ctx context.Context, query string, opts Options) Result {
	enabled := r.enabled
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	topK := r.topK
	if opts.TopK > 0 {
		topK = opts.TopK
	}

	if !enabled || query == "" {
		return Result{}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, continuing without context", "error", err)
		return Result{}
	}

	matches, err := r.store.Query(ctx, vec, topK)
	if err != nil {
		r.logger.Warn("vector store query failed, continuing without context", "error", err)
		return Result{}
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		if m.Score < r.minScore {
			continue
		}
		hits = append(hits, Hit{
			DocumentID: m.Payload.DocumentID,
			ChunkID:    m.ID,
			Text:       m.Payload.Text,
			Score:      m.Score,
		})
	}

	r.logger.Debug("retrieval complete",
		"hits", len(hits),
		"top_k", topK,
		"filtered", len(matches)-len(hits))
	return Result{Hits: hits}
}

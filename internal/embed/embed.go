// Package embed wraps the provider embedding API behind a small client:
// text in, fixed-dimension vector out.
//
// Failures wrap ErrService so ingestion and retrieval can branch on the
// embedding boundary without knowing the provider. Transient failures get
// exactly one re-attempt with a short backoff; anything beyond that is the
// caller's concern.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/ragpal/ragpal/internal/log"
)

// ErrService indicates the embedding provider failed (network, quota,
// timeout) or returned an unusable response.
var ErrService = errors.New("embedding service failure")

// retryBackoff is the pause before the single bounded re-attempt.
const retryBackoff = 500 * time.Millisecond

// retryablePatterns groups transient-error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: string matching because genkit and the provider SDKs expose no
// typed errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

// Client turns text into embedding vectors of a fixed dimension.
// Deterministic for identical text and model version; no caching.
type Client struct {
	embedder ai.Embedder
	dim      int
	logger   log.Logger
}

// New creates a Client. dim is the expected vector dimension; responses of
// any other length are rejected so a misconfigured embedder model cannot
// poison the index.
func New(embedder ai.Embedder, dim int, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{embedder: embedder, dim: dim, logger: logger}
}

// Dimension returns the fixed embedding dimension D.
func (c *Client) Dimension() int { return c.dim }

// Embed returns the embedding of text. One bounded re-attempt on transient
// failure; all errors wrap ErrService.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedOnce(ctx, text)
	if err == nil {
		return vec, nil
	}

	if !retryableError(err) {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}

	c.logger.Debug("transient embedding failure, retrying once", "error", err)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrService, ctx.Err())
	}

	vec, err = c.embedOnce(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	return vec, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vec := resp.Embeddings[0].Embedding
	if c.dim > 0 && len(vec) != c.dim {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(vec), c.dim)
	}
	return vec, nil
}

// retryableError reports whether err looks transient.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

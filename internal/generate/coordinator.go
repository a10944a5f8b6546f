// Package generate coordinates streamed completions: one generation per
// session at a time, fragments forwarded in arrival order, and a strict
// lifecycle from request to a single terminal state.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/prompt"
	"github.com/ragpal/ragpal/internal/retrieve"
	"github.com/ragpal/ragpal/internal/session"
)

var (
	// ErrGeneration indicates the upstream model failed or timed out.
	// Partial output already delivered stands; nothing is retried.
	ErrGeneration = errors.New("generation failure")

	// ErrTransport indicates the client-facing channel broke while the
	// generation itself was healthy.
	ErrTransport = errors.New("transport failure")

	// ErrEmptyQuery rejects blank submissions before any state is touched.
	ErrEmptyQuery = errors.New("empty query")
)

// Final is the finalized output of a completed generation: the full text
// and its sanitized HTML rendering.
type Final struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Transport is the client-facing side of one generation. SSE and WebSocket
// both implement it; the coordinator never knows which.
type Transport interface {
	// Start signals the beginning of a stream. A no-op for transports
	// without a start sentinel.
	Start(ctx context.Context) error
	// Fragment forwards one verbatim model fragment, in arrival order.
	Fragment(ctx context.Context, text string) error
	// Done delivers the end sentinel with the finalized output.
	Done(ctx context.Context, final Final) error
	// Fail delivers an error indicator. Best effort: the channel may
	// already be gone.
	Fail(ctx context.Context, err error)
}

// Coordinator runs the retrieve-compose-generate pipeline for a session.
type Coordinator struct {
	model     ModelClient
	retriever *retrieve.Retriever
	composer  *prompt.Composer
	timeout   time.Duration
	logger    log.Logger
}

// NewCoordinator creates a Coordinator bounding each stream to timeout
// (<= 0 means unbounded).
func NewCoordinator(model ModelClient, retriever *retrieve.Retriever, composer *prompt.Composer, timeout time.Duration, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{
		model:     model,
		retriever: retriever,
		composer:  composer,
		timeout:   timeout,
		logger:    logger,
	}
}

// StreamOptions carries per-request overrides. The zero value means the
// configured defaults.
type StreamOptions struct {
	// Retrieval overrides the configured retrieval default when set.
	Retrieval *bool
	// TopK overrides the retrieved hit count when positive.
	TopK int
	// History, when non-nil, replaces the session history window for this
	// request only. Completion still appends to the session history.
	History []session.Turn
}

// Stream runs one full generation for query on sess, delivering output
// through transport. At most one generation runs per session: a concurrent
// call returns session.ErrBusy untouched.
//
// History is appended only when the generation completes. Failure and
// cancellation leave the session history exactly as it was.
func (c *Coordinator) Stream(ctx context.Context, sess *session.Session, query string, transport Transport) error {
	return c.StreamWith(ctx, sess, query, transport, StreamOptions{})
}

// StreamWith is Stream with per-request overrides.
func (c *Coordinator) StreamWith(ctx context.Context, sess *session.Session, query string, transport Transport, opts StreamOptions) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if err := sess.Acquire(); err != nil {
		return err
	}
	defer sess.Release()

	m := newMachine()
	if err := m.to(StateRequested); err != nil {
		return err
	}
	c.logger.Debug("generation requested", "session_id", sess.ID)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result := c.retriever.RetrieveWith(ctx, query, retrieve.Options{
		Enabled: opts.Retrieval,
		TopK:    opts.TopK,
	})

	var req prompt.Request
	if opts.History != nil {
		req = c.composer.ComposeTurns(query, result, opts.History)
	} else {
		req = c.composer.Compose(query, result, sess.History)
	}

	if err := transport.Start(ctx); err != nil {
		_ = m.to(StateFailed)
		return fmt.Errorf("%w: start: %w", ErrTransport, err)
	}

	var buf strings.Builder
	var transportErr error
	onFragment := func(fctx context.Context, text string) error {
		if text == "" {
			return nil
		}
		if m.current() == StateRequested {
			_ = m.to(StateStreaming)
		}
		buf.WriteString(text)
		if err := transport.Fragment(fctx, text); err != nil {
			transportErr = err
			return err
		}
		return nil
	}

	final, err := c.model.Generate(ctx, req, onFragment)
	if err != nil {
		switch {
		case transportErr != nil:
			_ = m.to(StateFailed)
			c.logger.Warn("stream aborted, client channel broken",
				"session_id", sess.ID, "error", transportErr)
			return fmt.Errorf("%w: fragment: %w", ErrTransport, transportErr)

		case errors.Is(err, context.Canceled):
			_ = m.to(StateCancelled)
			c.logger.Info("generation cancelled", "session_id", sess.ID)
			return err

		case errors.Is(err, context.DeadlineExceeded):
			_ = m.to(StateFailed)
			transport.Fail(context.WithoutCancel(ctx), ErrGeneration)
			return fmt.Errorf("%w: stream timeout: %w", ErrGeneration, err)

		default:
			_ = m.to(StateFailed)
			transport.Fail(ctx, fmt.Errorf("%w: %w", ErrGeneration, err))
			return fmt.Errorf("%w: %w", ErrGeneration, err)
		}
	}

	if final == "" {
		final = buf.String()
	}

	html, err := renderHTML(final)
	if err != nil {
		_ = m.to(StateFailed)
		transport.Fail(ctx, fmt.Errorf("%w: %w", ErrGeneration, err))
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	sess.History.Add(query, final)
	_ = m.to(StateCompleted)

	if err := transport.Done(ctx, Final{Text: final, HTML: html}); err != nil {
		c.logger.Warn("end sentinel undelivered", "session_id", sess.ID, "error", err)
		return fmt.Errorf("%w: done: %w", ErrTransport, err)
	}

	c.logger.Info("generation completed",
		"session_id", sess.ID,
		"output_chars", len(final),
		"context_hits", len(result.Hits))
	return nil
}

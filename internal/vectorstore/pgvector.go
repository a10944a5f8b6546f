package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Pg is the postgres + pgvector Store. Schema lives in db/migrations; the
// chunks table keys on the chunk id and indexes the embedding with cosine
// distance.
//
// Read paths leave Entry.Vector nil: callers only consume payloads and
// scores, and shipping embeddings back is wasted bandwidth.
type Pg struct {
	pool *pgxpool.Pool
}

// NewPg wraps an existing connection pool. The pool's lifecycle belongs to
// the caller (closed by app teardown, not by this store).
func NewPg(pool *pgxpool.Pool) *Pg {
	return &Pg{pool: pool}
}

// Upsert inserts or replaces chunks in one round trip per entry within a
// transaction, so a multi-chunk upsert is atomic.
func (p *Pg) Upsert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning upsert: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO chunks (id, document_id, seq, content, source_text, embedding, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			seq         = EXCLUDED.seq,
			content     = EXCLUDED.content,
			source_text = EXCLUDED.source_text,
			embedding   = EXCLUDED.embedding,
			uploaded_at = EXCLUDED.uploaded_at`

	for _, e := range entries {
		uploadedAt := e.Payload.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = time.Now().UTC()
		}
		vec := pgvector.NewVector(e.Vector)
		if _, err := tx.Exec(ctx, q,
			e.ID, e.Payload.DocumentID, e.Payload.Seq,
			e.Payload.Text, e.Payload.SourceText, vec, uploadedAt,
		); err != nil {
			return fmt.Errorf("%w: upserting chunk %q: %w", ErrUnavailable, e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing upsert: %w", ErrUnavailable, err)
	}
	return nil
}

// Query runs cosine similarity search, best match first. Score is
// 1 - cosine_distance, so identical direction scores 1.
func (p *Pg) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	const q = `
		SELECT id, document_id, seq, content, source_text, uploaded_at,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.ID, &m.Payload.DocumentID, &m.Payload.Seq,
			&m.Payload.Text, &m.Payload.SourceText, &m.Payload.UploadedAt, &score); err != nil {
			return nil, fmt.Errorf("%w: scanning match: %w", ErrUnavailable, err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading matches: %w", ErrUnavailable, err)
	}
	return matches, nil
}

// Delete removes one chunk, reporting whether it existed.
func (p *Pg) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%w: deleting chunk %q: %w", ErrUnavailable, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByDocument removes every chunk of a document.
func (p *Pg) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting document %q: %w", ErrUnavailable, docID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Scroll returns head chunks ordered by upload time (id as tiebreaker so
// pagination is stable under equal timestamps).
func (p *Pg) Scroll(ctx context.Context, offset, limit int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return nil, nil
	}

	const q = `
		SELECT id, document_id, seq, content, source_text, uploaded_at
		FROM chunks
		WHERE seq = 0
		ORDER BY uploaded_at, id
		OFFSET $1 LIMIT $2`

	rows, err := p.pool.Query(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: scrolling documents: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Payload.DocumentID, &e.Payload.Seq,
			&e.Payload.Text, &e.Payload.SourceText, &e.Payload.UploadedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning document row: %w", ErrUnavailable, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading document rows: %w", ErrUnavailable, err)
	}
	return entries, nil
}

// Count returns the number of documents in the store.
func (p *Pg) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE seq = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting documents: %w", ErrUnavailable, err)
	}
	return n, nil
}

// compile-time interface checks
var (
	_ Store = (*Pg)(nil)
	_ Store = (*Memory)(nil)
)

// Package vectorstore defines the similarity-index boundary used by the
// knowledge base and the retriever, together with two implementations:
// pgvector-backed postgres (production) and an in-process store (tests,
// volatile development mode).
//
// One Entry corresponds to one document chunk. The head chunk of a document
// (Seq == 0) additionally carries the full source text so document listings
// can be served from the store without a second system of record.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the similarity index could not be reached or the
// operation failed at the store. Ingestion treats it as fatal for the
// document being ingested; retrieval degrades to an empty result instead.
var ErrUnavailable = errors.New("vector store unavailable")

// Payload is the metadata stored alongside each vector.
type Payload struct {
	// DocumentID names the owning document; all chunks of a document share it.
	DocumentID string `json:"document_id"`
	// Seq is the chunk position within the document, starting at 0.
	Seq int `json:"seq"`
	// Text is the chunk text, the unit handed to the prompt composer.
	Text string `json:"text"`
	// SourceText is the complete original document text. Set on the head
	// chunk only; empty elsewhere.
	SourceText string `json:"source_text,omitempty"`
	// UploadedAt orders documents for listing.
	UploadedAt time.Time `json:"uploaded_at"`
}

// Entry is one (id, vector, payload) triple.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match is a query hit. Score is cosine similarity in [0, 1] for normalized
// embeddings, descending within a result set.
type Match struct {
	Entry
	Score float32
}

// Store is the similarity-index adapter.
//
// Upsert is idempotent per ID: re-upserting replaces the prior vector and
// payload. Query returns at most k matches, best first, and an empty slice
// on an empty store. Delete reports whether the entry existed.
type Store interface {
	Upsert(ctx context.Context, entries ...Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteByDocument removes every chunk of a document and returns how
	// many entries were removed. Zero with a nil error means the document
	// was not present.
	DeleteByDocument(ctx context.Context, docID string) (int, error)

	// Scroll returns head chunks (Seq == 0) in document insertion order,
	// for paginated knowledge-base listings.
	Scroll(ctx context.Context, offset, limit int) ([]Entry, error)

	// Count returns the number of documents (head chunks) in the store.
	Count(ctx context.Context) (int, error)
}

// Package knowledge manages the knowledge base: splitting submitted text
// into chunks, embedding them, and keeping the vector store consistent.
//
// Ingestion is all-or-nothing per document. A document whose chunks only
// partially reached the store is worse than no document at all, so any
// mid-ingestion failure rolls back the chunks written so far.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragpal/ragpal/internal/log"
	"github.com/ragpal/ragpal/internal/vectorstore"
)

var (
	// ErrIngestion indicates a document could not be added to the knowledge
	// base. The store holds no partial state for it.
	ErrIngestion = errors.New("document ingestion failure")

	// ErrNotFound indicates the requested document id is not in the
	// knowledge base.
	ErrNotFound = errors.New("document not found")
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager owns knowledge-base documents. Operations on distinct document
// ids proceed concurrently; operations on the same id are serialized.
type Manager struct {
	embedder Embedder
	store    vectorstore.Store
	logger   log.Logger

	chunkSize    int
	chunkOverlap int

	locks keyedMutex
}

// NewManager creates a Manager splitting documents into chunkSize-rune
// windows with chunkOverlap runes of overlap.
func NewManager(embedder Embedder, store vectorstore.Store, chunkSize, chunkOverlap int, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		embedder:     embedder,
		store:        store,
		logger:       logger,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Ingest adds sourceText to the knowledge base and returns the stored
// document. Chunks are embedded and upserted in sequence order; every
// stored chunk is embedded before the document becomes visible to
// retrieval as a whole. On failure the store is rolled back and the error
// wraps ErrIngestion.
func (m *Manager) Ingest(ctx context.Context, sourceText string) (Document, error) {
	if strings.TrimSpace(sourceText) == "" {
		return Document{}, fmt.Errorf("%w: empty document", ErrIngestion)
	}

	doc := Document{
		ID:         uuid.NewString(),
		SourceText: sourceText,
		UploadedAt: time.Now().UTC(),
	}

	m.locks.lock(doc.ID)
	defer m.locks.unlock(doc.ID)

	pieces := Split(sourceText, m.chunkSize, m.chunkOverlap)
	for seq, text := range pieces {
		vec, err := m.embedder.Embed(ctx, text)
		if err != nil {
			m.rollback(doc.ID)
			return Document{}, fmt.Errorf("%w: embedding chunk %d: %w", ErrIngestion, seq, err)
		}

		chunk := Chunk{
			ID:         chunkID(doc.ID, seq),
			DocumentID: doc.ID,
			Seq:        seq,
			Text:       text,
			Embedding:  vec,
		}

		entry := vectorstore.Entry{
			ID:     chunk.ID,
			Vector: vec,
			Payload: vectorstore.Payload{
				DocumentID: doc.ID,
				Seq:        seq,
				Text:       text,
				UploadedAt: doc.UploadedAt,
			},
		}
		// The head chunk carries the full source text for listings.
		if seq == 0 {
			entry.Payload.SourceText = sourceText
		}

		if err := m.store.Upsert(ctx, entry); err != nil {
			m.rollback(doc.ID)
			return Document{}, fmt.Errorf("%w: storing chunk %d: %w", ErrIngestion, seq, err)
		}
		doc.Chunks = append(doc.Chunks, chunk)
	}

	m.logger.Info("document ingested",
		"document_id", doc.ID,
		"chunks", len(doc.Chunks),
		"source_chars", len(sourceText))
	return doc, nil
}

// List returns one page of documents in upload order plus the total count.
func (m *Manager) List(ctx context.Context, offset, limit int) (View, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	heads, err := m.store.Scroll(ctx, offset, limit)
	if err != nil {
		return View{}, fmt.Errorf("listing documents: %w", err)
	}
	total, err := m.store.Count(ctx)
	if err != nil {
		return View{}, fmt.Errorf("counting documents: %w", err)
	}

	view := View{
		Documents:  make([]Info, 0, len(heads)),
		NextOffset: offset + len(heads),
		Total:      total,
	}
	for _, head := range heads {
		view.Documents = append(view.Documents, Info{
			ID:         head.Payload.DocumentID,
			SourceText: head.Payload.SourceText,
			UploadedAt: head.Payload.UploadedAt,
		})
	}
	return view, nil
}

// Delete removes all chunks of docID. It returns false when the id was
// unknown, which is not an error.
func (m *Manager) Delete(ctx context.Context, docID string) (bool, error) {
	m.locks.lock(docID)
	defer m.locks.unlock(docID)

	removed, err := m.store.DeleteByDocument(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("deleting document %s: %w", docID, err)
	}
	if removed == 0 {
		return false, nil
	}

	m.logger.Info("document deleted", "document_id", docID, "chunks", removed)
	return true, nil
}

// rollback removes whatever chunks of docID made it into the store.
// Best effort: a failed rollback is logged, the original error is what the
// caller sees.
func (m *Manager) rollback(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	if _, err := m.store.DeleteByDocument(ctx, docID); err != nil {
		m.logger.Error("ingestion rollback failed, orphan chunks may remain",
			"document_id", docID, "error", err)
	}
}

func chunkID(docID string, seq int) string {
	return fmt.Sprintf("%s:%d", docID, seq)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100

	rollbackTimeout = 10 * time.Second
)

// keyedMutex serializes operations per key while letting distinct keys
// proceed concurrently. Entries are reference counted and removed when the
// last holder unlocks, so the map does not grow with document churn.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	entry := k.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}

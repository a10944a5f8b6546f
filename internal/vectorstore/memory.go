package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Store. Entries live in insertion order; lookups
// go through an index map. Safe for concurrent use.
//
// Used by tests and by the volatile "memory" backend, where the knowledge
// base lives only as long as the process (the same trade-off the original
// deployment made with an in-memory collection).
type Memory struct {
	mu      sync.RWMutex
	order   []string         // insertion order of entry IDs
	entries map[string]Entry // id -> entry
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Upsert inserts or replaces entries by ID. A replaced entry keeps its
// original position in insertion order.
func (m *Memory) Upsert(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if _, exists := m.entries[e.ID]; !exists {
			m.order = append(m.order, e.ID)
		}
		// Copy the vector so callers can reuse their buffer.
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		e.Vector = vec
		m.entries[e.ID] = e
	}
	return nil
}

// Query returns the k nearest entries by cosine similarity, best first.
func (m *Memory) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(m.entries))
	for _, id := range m.order {
		e := m.entries[id]
		matches = append(matches, Match{Entry: e, Score: cosineSimilarity(vector, e.Vector)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes an entry, reporting whether it existed.
func (m *Memory) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id), nil
}

// DeleteByDocument removes every chunk with the given document id.
func (m *Memory) DeleteByDocument(_ context.Context, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, e := range m.entries {
		if e.Payload.DocumentID == docID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.deleteLocked(id)
	}
	return len(ids), nil
}

// Scroll returns head chunks in insertion order.
func (m *Memory) Scroll(_ context.Context, offset, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var heads []Entry
	for _, id := range m.order {
		if e := m.entries[id]; e.Payload.Seq == 0 {
			heads = append(heads, e)
		}
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(heads) {
		return nil, nil
	}
	heads = heads[offset:]
	if limit > 0 && len(heads) > limit {
		heads = heads[:limit]
	}
	return heads, nil
}

// Count returns the number of documents (head chunks).
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.Payload.Seq == 0 {
			n++
		}
	}
	return n, nil
}

func (m *Memory) deleteLocked(id string) bool {
	if _, exists := m.entries[id]; !exists {
		return false
	}
	delete(m.entries, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or the lengths differ.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Package session tracks chat sessions: per-session conversation history
// and the single-generation-in-flight gate.
package session

import "sync"

// Role constants for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// History is the bounded conversation memory of one session. Thread-safe;
// never shared across sessions.
//
// The zero value is NOT useful, use NewHistory.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{turns: make([]Turn, 0)}
}

// Add appends a completed exchange: the user query and the assistant
// response, in that order.
func (h *History) Add(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns,
		Turn{Role: RoleUser, Text: userText},
		Turn{Role: RoleAssistant, Text: assistantText},
	)
}

// LastN returns a copy of the turns of the last n exchanges (up to 2n
// turns), oldest first. n <= 0 returns nil.
func (h *History) LastN(n int) []Turn {
	if n <= 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := len(h.turns) - 2*n
	if start < 0 {
		start = 0
	}
	window := make([]Turn, len(h.turns)-start)
	copy(window, h.turns[start:])
	return window
}

// Len returns the number of turns recorded.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear removes all turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:0]
}

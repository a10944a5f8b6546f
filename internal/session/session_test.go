package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHistoryAddAndLastN(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 6; i++ {
		h.Add(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	if h.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", h.Len())
	}

	window := h.LastN(2)
	if len(window) != 4 {
		t.Fatalf("LastN(2) = %d turns, want 4", len(window))
	}
	want := []Turn{
		{Role: RoleUser, Text: "q4"},
		{Role: RoleAssistant, Text: "a4"},
		{Role: RoleUser, Text: "q5"},
		{Role: RoleAssistant, Text: "a5"},
	}
	for i, turn := range window {
		if turn != want[i] {
			t.Errorf("window[%d] = %+v, want %+v", i, turn, want[i])
		}
	}
}

func TestHistoryLastNShorterThanWindow(t *testing.T) {
	h := NewHistory()
	h.Add("q0", "a0")

	window := h.LastN(10)
	if len(window) != 2 {
		t.Errorf("LastN(10) = %d turns, want 2", len(window))
	}
	if got := h.LastN(0); got != nil {
		t.Errorf("LastN(0) = %v, want nil", got)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Add("q", "a")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", h.Len())
	}
}

func TestHistoryWindowIsCopy(t *testing.T) {
	h := NewHistory()
	h.Add("q", "a")

	window := h.LastN(1)
	window[0].Text = "mutated"

	if h.LastN(1)[0].Text != "q" {
		t.Error("LastN window aliases internal storage")
	}
}

func TestSessionAcquireRelease(t *testing.T) {
	m := NewManager(0, nil)
	s := m.Create()

	if err := s.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := s.Acquire(); !errors.Is(err, ErrBusy) {
		t.Errorf("second Acquire() error = %v, want ErrBusy", err)
	}
	if !s.Busy() {
		t.Error("Busy() = false while acquired")
	}

	s.Release()
	if err := s.Acquire(); err != nil {
		t.Errorf("Acquire() after Release error = %v", err)
	}
}

func TestSessionAcquireSingleWinner(t *testing.T) {
	m := NewManager(0, nil)
	s := m.Create()

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acquire() == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(0, nil)
	s := m.Create()

	if s.History.Len() != 0 {
		t.Error("new session history not empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != s {
		t.Error("Get() returned a different session")
	}

	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestManagerHistoriesIndependent(t *testing.T) {
	m := NewManager(0, nil)
	a, b := m.Create(), m.Create()

	a.History.Add("q", "a")
	if b.History.Len() != 0 {
		t.Error("history leaked across sessions")
	}
}

func TestManagerSweep(t *testing.T) {
	m := NewManager(time.Minute, nil)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	stale := m.Create()
	busy := m.Create()
	if err := busy.Acquire(); err != nil {
		t.Fatal(err)
	}

	current = current.Add(2 * time.Minute)
	fresh := m.Create()

	evicted := m.Sweep()
	if evicted != 1 {
		t.Fatalf("Sweep() = %d, want 1", evicted)
	}
	if _, err := m.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Error("stale session not evicted")
	}
	if _, err := m.Get(busy.ID); err != nil {
		t.Error("in-flight session evicted")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Error("fresh session evicted")
	}
}

func TestManagerSweepDisabled(t *testing.T) {
	m := NewManager(0, nil)
	m.Create()
	if m.Sweep() != 0 {
		t.Error("Sweep() evicted with eviction disabled")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

package generate

import "fmt"

// State is the lifecycle position of one generation.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequested:
		return "REQUESTED"
	case StateStreaming:
		return "STREAMING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions lists the legal moves of the generation lifecycle. A request
// may fail or be cancelled before the first fragment arrives, so REQUESTED
// reaches every terminal state directly.
var transitions = map[State][]State{
	StateIdle:      {StateRequested},
	StateRequested: {StateStreaming, StateCompleted, StateFailed, StateCancelled},
	StateStreaming: {StateCompleted, StateFailed, StateCancelled},
}

// machine enforces the generation lifecycle. Not safe for concurrent use;
// each generation owns its machine.
type machine struct {
	state State
}

func newMachine() *machine { return &machine{state: StateIdle} }

// to moves the machine to next, or reports the illegal transition.
func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if next == allowed {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", m.state, next)
}

func (m *machine) current() State { return m.state }

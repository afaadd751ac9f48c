package coord

import "sync"

// State is the shutdown phase of one worker process. Transitions are
// monotonic: a state can only advance toward StateTerminated, never revert.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateDrained
	StateTimedOut
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateDrained:
		return "DRAINED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the countdown has resolved, one way or the other.
func (s State) Terminal() bool {
	return s == StateDrained || s == StateTimedOut || s == StateTerminated
}

// stateMachine guards the monotonic transition order. Both terminal countdown
// outcomes advance from SHUTTING_DOWN; once TIMED_OUT is reached a later
// drain cannot rewrite it.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// advance moves to the target state if doing so is a forward transition.
// It returns true when the transition was applied.
func (m *stateMachine) advance(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to <= m.state {
		return false
	}

	// DRAINED and TIMED_OUT are alternative outcomes of the same countdown,
	// not successive states. Whichever lands first wins.
	if m.state == StateDrained && to == StateTimedOut {
		return false
	}

	m.state = to
	return true
}

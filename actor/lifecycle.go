package actor

import (
	"fmt"

	uatomic "go.uber.org/atomic"
)

// State is the lifecycle state of one actor instance. The logical actor
// identity outlives the instance: a supervisor may spawn a fresh instance
// at the same address, which begins again at StateStarting.
type State uint8

const (
	// StateStarting covers mailbox creation through PreStart.
	StateStarting State = iota
	// StateRunning is the message-processing steady state.
	StateRunning
	// StateStopping covers mailbox drain and PostStop.
	StateStopping
	// StateStopped is the clean terminal state.
	StateStopped
	// StateFailed is the terminal state after an unrecovered error.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateStarting:
		return next == StateRunning || next == StateStopping || next == StateFailed
	case StateRunning:
		return next == StateStopping || next == StateFailed
	case StateStopping:
		return next == StateStopped || next == StateFailed
	default:
		return false
	}
}

// ErrInvalidTransition reports an illegal lifecycle transition.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// Lifecycle tracks one instance's state with lock-free reads. A fresh
// lifecycle starts in StateStarting.
type Lifecycle struct {
	state uatomic.Uint32
}

// NewLifecycle creates a lifecycle in StateStarting.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Transition moves to next, failing with ErrInvalidTransition when the
// move is not legal from the current state. Concurrent transitions are
// serialized by compare-and-swap; the loser re-evaluates legality.
func (l *Lifecycle) Transition(next State) error {
	for {
		current := l.state.Load()

		if !State(current).CanTransition(next) {
			return ErrInvalidTransition{From: State(current), To: next}
		}

		if l.state.CompareAndSwap(current, uint32(next)) {
			return nil
		}
	}
}

// Reset returns a restarted instance to StateStarting. Only legal from a
// terminal state; the supervisor calls this when re-spawning at the same
// address.
func (l *Lifecycle) Reset() error {
	for {
		current := l.state.Load()

		if !State(current).Terminal() {
			return ErrInvalidTransition{From: State(current), To: StateStarting}
		}

		if l.state.CompareAndSwap(current, uint32(StateStarting)) {
			return nil
		}
	}
}

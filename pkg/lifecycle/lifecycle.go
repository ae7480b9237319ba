package lifecycle

import (
	"context"
	"time"
)

// State is the lifecycle state of a service.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateStopped, StateCrashed:
		return next == StateStarting
	case StateStarting:
		return next == StateRunning || next == StateStopping || next == StateCrashed
	case StateRunning:
		return next == StateStopping || next == StateCrashed
	case StateStopping:
		return next == StateStopped || next == StateCrashed
	default:
		return false
	}
}

// EventEmitter is called after every successful state transition.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// EventEmitterFunc adapts a function to the EventEmitter interface.
type EventEmitterFunc func(previous, current State, reason string)

// OnStateChange calls f(previous, current, reason).
func (f EventEmitterFunc) OnStateChange(previous, current State, reason string) {
	f(previous, current, reason)
}

// Manager manages the lifecycle state machine of a service.
type Manager interface {
	// State returns the current lifecycle state.
	State() State

	// Since returns when the current state was entered.
	Since() time.Time

	// CanStart returns true if the service may be started.
	CanStart() bool

	// CanStop returns true if the service may be stopped, including during startup.
	CanStop() bool

	// TransitionTo moves to newState, or returns an error wrapping
	// ErrInvalidTransition.
	TransitionTo(newState State, reason string) error

	// AddWorker registers one unit of work that Wait must see finish.
	AddWorker()

	// WorkerDone marks a registered unit as finished.
	WorkerDone()

	// Wait blocks until every registered worker is done or ctx ends.
	Wait(ctx context.Context) error

	// WaitWithTimeout is Wait bounded by timeout.
	WaitWithTimeout(timeout time.Duration) error
}

package batch

// State is the position of a Scheduler's collection loop.
type State int32

const (
	// StateIdle means the loop is blocked waiting for the first item of a cycle.
	StateIdle State = iota
	// StateCollecting means a cycle has started and is accumulating items.
	StateCollecting
	// StateDispatching means a batch has been handed to the processor.
	StateDispatching
	// StateStopped means the loop has exited.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCollecting:
		return "Collecting"
	case StateDispatching:
		return "Dispatching"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

package batch

import (
	"sync/atomic"
	"time"
)

// BatchEvent describes one dispatched batch.
type BatchEvent struct {
	// Size is the number of items in the batch.
	Size int

	// Wait is how long the oldest item waited in the queue before dispatch.
	Wait time.Duration

	// Duration is how long the processor call took.
	Duration time.Duration

	// Err is nil on success, a *ProcessingError, or an ErrResultMismatch error.
	Err error
}

// Observer receives scheduler events. Calls are made synchronously from the
// collection loop, so implementations must return quickly.
type Observer interface {
	OnStateChange(previous, current State)
	OnBatchDispatched(event BatchEvent)
	OnItemRejected(err error)
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Submitted int64  `json:"submitted"`
	Rejected  int64  `json:"rejected"`
	Batches   int64  `json:"batches"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Canceled  int64  `json:"canceled"`
	Queued    int    `json:"queued"`
	State     State  `json:"-"`
	StateName string `json:"state"`
}

// AvgBatchSize returns the mean number of items per dispatched batch.
func (s Stats) AvgBatchSize() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed) / float64(s.Batches)
}

type counters struct {
	submitted atomic.Int64
	rejected  atomic.Int64
	batches   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
}

// multiObserver fans events out to several observers in order.
type multiObserver []Observer

func (m multiObserver) OnStateChange(previous, current State) {
	for _, o := range m {
		o.OnStateChange(previous, current)
	}
}

func (m multiObserver) OnBatchDispatched(event BatchEvent) {
	for _, o := range m {
		o.OnBatchDispatched(event)
	}
}

func (m multiObserver) OnItemRejected(err error) {
	for _, o := range m {
		o.OnItemRejected(err)
	}
}

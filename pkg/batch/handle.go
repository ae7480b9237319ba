package batch

import (
	"context"
	"sync/atomic"
)

// Handle is a single-assignment result cell for one submitted item.
// The scheduler is its only writer; callers wait on it.
type Handle[Out any] struct {
	done     chan struct{}
	resolved atomic.Bool
	value    Out
	err      error
}

func newHandle[Out any]() *Handle[Out] {
	return &Handle[Out]{done: make(chan struct{})}
}

// resolve stores the outcome and wakes waiters. Only the first call wins;
// later calls return ErrAlreadyResolved and change nothing.
func (h *Handle[Out]) resolve(value Out, err error) error {
	if !h.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	h.value = value
	h.err = err
	close(h.done)
	return nil
}

func (h *Handle[Out]) fail(err error) error {
	var zero Out
	return h.resolve(zero, err)
}

// Done is closed once the handle holds a result.
func (h *Handle[Out]) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether the handle holds a result.
func (h *Handle[Out]) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the handle is resolved or ctx ends.
// When ctx ends first, Wait returns ctx.Err() and the eventual result is discarded.
func (h *Handle[Out]) Wait(ctx context.Context) (Out, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	}
}

package batch

import (
	"context"
	"time"
)

// entry is one queued item together with the handle its caller waits on.
type entry[In, Out any] struct {
	ctx      context.Context
	item     In
	handle   *Handle[Out]
	enqueued time.Time
}

// Batch is the set of items collected in one cycle.
// It maintains the invariant that items and handles have the same length
// and that handles[i] belongs to items[i].
type Batch[In, Out any] struct {
	items   []In
	handles []*Handle[Out]

	// firstEnqueued is when the oldest item in the batch was queued.
	firstEnqueued time.Time
}

// NewBatch creates an empty batch with room for capacity items.
func NewBatch[In, Out any](capacity int) *Batch[In, Out] {
	return &Batch[In, Out]{
		items:   make([]In, 0, capacity),
		handles: make([]*Handle[Out], 0, capacity),
	}
}

// Add appends an item and the handle that will receive its result.
func (b *Batch[In, Out]) Add(item In, handle *Handle[Out]) {
	b.items = append(b.items, item)
	b.handles = append(b.handles, handle)
}

func (b *Batch[In, Out]) addEntry(e *entry[In, Out]) {
	if b.Empty() || e.enqueued.Before(b.firstEnqueued) {
		b.firstEnqueued = e.enqueued
	}
	b.Add(e.item, e.handle)
}

// Size returns the number of items in the batch.
func (b *Batch[In, Out]) Size() int {
	return len(b.items)
}

// Empty returns true if the batch has no items.
func (b *Batch[In, Out]) Empty() bool {
	return len(b.items) == 0
}

// Items returns the ordered payloads. The slice is owned by the batch and
// must not be retained past the processor call.
func (b *Batch[In, Out]) Items() []In {
	return b.items
}

// Resolve hands outs[i] to the handle of item i.
// If len(outs) differs from Size, every handle fails with ErrResultMismatch
// and that error is returned.
func (b *Batch[In, Out]) Resolve(outs []Out) error {
	if len(outs) != len(b.handles) {
		err := newMismatchError(len(b.handles), len(outs))
		b.Fail(err)
		return err
	}
	for i, h := range b.handles {
		_ = h.resolve(outs[i], nil)
	}
	return nil
}

// Fail resolves every handle in the batch with err.
func (b *Batch[In, Out]) Fail(err error) {
	for _, h := range b.handles {
		_ = h.fail(err)
	}
}

// Reset clears the batch for reuse.
func (b *Batch[In, Out]) Reset() {
	clear(b.items)
	clear(b.handles)
	b.items = b.items[:0]
	b.handles = b.handles[:0]
	b.firstEnqueued = time.Time{}
}

package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bft-labs/tashkil/pkg/batch"
)

// Limiter bounds how many batches may run on a shared model at once.
// One Limiter is shared by every Gate in front of the same model.
type Limiter struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// NewLimiter allows limit concurrent batches. Values below 1 mean 1.
func NewLimiter(limit int64) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(limit), limit: limit}
}

// Limit returns the configured concurrency.
func (l *Limiter) Limit() int64 {
	return l.limit
}

// InFlight returns the number of batches currently holding a slot.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Gate runs the wrapped processor only while holding a Limiter slot.
type Gate[In, Out any] struct {
	limiter *Limiter
	next    batch.Processor[In, Out]
}

// NewGate wraps next with limiter.
func NewGate[In, Out any](limiter *Limiter, next batch.Processor[In, Out]) *Gate[In, Out] {
	return &Gate[In, Out]{limiter: limiter, next: next}
}

// Process waits for a slot, then calls the wrapped processor.
func (g *Gate[In, Out]) Process(ctx context.Context, items []In) ([]Out, error) {
	if err := g.limiter.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire model slot: %w", err)
	}
	g.limiter.inFlight.Add(1)
	defer func() {
		g.limiter.inFlight.Add(-1)
		g.limiter.sem.Release(1)
	}()

	return g.next.Process(ctx, items)
}

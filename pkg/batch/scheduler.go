package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/tashkil/pkg/log"
)

// Processor computes results for a batch of items.
// It must return exactly one result per item, in the same order.
// The items slice is reused after Process returns and must not be retained.
type Processor[In, Out any] interface {
	Process(ctx context.Context, items []In) ([]Out, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc[In, Out any] func(ctx context.Context, items []In) ([]Out, error)

// Process calls f(ctx, items).
func (f ProcessorFunc[In, Out]) Process(ctx context.Context, items []In) ([]Out, error) {
	return f(ctx, items)
}

// Scheduler accumulates submitted items into batches bounded by size and
// wait time, hands each batch to a Processor, and resolves every item's
// Handle with its own result.
//
// A single goroutine runs the collection loop, so at most one batch is in
// flight per Scheduler.
type Scheduler[In, Out any] struct {
	proc      Processor[In, Out]
	validator Validator[In]
	logger    log.Logger
	observer  Observer

	cfg       atomic.Pointer[Config]
	queueSize int

	pending chan *entry[In, Out]
	quit    chan struct{}
	abort   chan struct{}
	stopped chan struct{}

	procCtx    context.Context
	procCancel context.CancelFunc

	mu         sync.Mutex
	started    bool
	closed     bool
	submitters sync.WaitGroup
	abortOnce  sync.Once
	state      atomic.Int32
	stats      counters
}

// New creates a Scheduler. Call Start to launch the collection loop.
func New[In, Out any](cfg Config, proc Processor[In, Out], opts ...Option[In, Out]) (*Scheduler[In, Out], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, fmt.Errorf("%w: processor is required", ErrInvalidConfig)
	}

	var o options[In, Out]
	for _, opt := range opts {
		opt(&o)
	}

	procCtx, procCancel := context.WithCancel(context.Background())
	s := &Scheduler[In, Out]{
		proc:       proc,
		validator:  o.validator,
		logger:     log.OrNoop(o.logger).With(log.Component("batch-scheduler")),
		observer:   multiObserver(o.observers),
		queueSize:  cfg.QueueSize,
		pending:    make(chan *entry[In, Out], cfg.QueueSize),
		quit:       make(chan struct{}),
		abort:      make(chan struct{}),
		stopped:    make(chan struct{}),
		procCtx:    procCtx,
		procCancel: procCancel,
	}
	s.cfg.Store(&cfg)
	return s, nil
}

// Start launches the collection loop.
func (s *Scheduler[In, Out]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	cfg := s.Config()
	s.logger.Info("scheduler started",
		log.Int("max_batch_size", cfg.MaxBatchSize),
		log.Duration("max_wait", cfg.MaxWait),
		log.Int("queue_size", s.queueSize),
	)
	go s.run()
	return nil
}

// Submit enqueues item and waits for its result.
//
// If ctx ends first, Submit returns ctx.Err(). An item still queued at that
// point is dropped when the loop reaches it; an item already in a batch is
// computed and its result discarded.
func (s *Scheduler[In, Out]) Submit(ctx context.Context, item In) (Out, error) {
	h, err := s.Enqueue(ctx, item)
	if err != nil {
		var zero Out
		return zero, err
	}
	return h.Wait(ctx)
}

// Enqueue validates item and adds it to the pending queue, blocking while
// the queue is full. The returned Handle resolves once the item's batch has
// been processed. ctx stays attached to the item: if it ends before the item
// joins a batch, the handle resolves with ctx.Err().
func (s *Scheduler[In, Out]) Enqueue(ctx context.Context, item In) (*Handle[Out], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.validator != nil {
		if err := s.validator.Validate(item); err != nil {
			if !errors.Is(err, ErrValidation) {
				err = fmt.Errorf("%w: %w", ErrValidation, err)
			}
			s.stats.rejected.Add(1)
			s.observer.OnItemRejected(err)
			return nil, err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	s.submitters.Add(1)
	s.mu.Unlock()
	defer s.submitters.Done()

	e := &entry[In, Out]{
		ctx:      ctx,
		item:     item,
		handle:   newHandle[Out](),
		enqueued: time.Now(),
	}
	select {
	case s.pending <- e:
		s.stats.submitted.Add(1)
		return e.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrShutdown
	}
}

// Reconfigure replaces the batching policy. The collection loop picks it up
// at the start of its next cycle. QueueSize cannot change; a zero QueueSize
// keeps the current one.
func (s *Scheduler[In, Out]) Reconfigure(cfg Config) error {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = s.queueSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.QueueSize != s.queueSize {
		s.logger.Warn("queue size is fixed at construction, ignoring change",
			log.Int("current", s.queueSize),
			log.Int("requested", cfg.QueueSize),
		)
		cfg.QueueSize = s.queueSize
	}

	prev := s.cfg.Swap(&cfg)
	s.logger.Info("batching policy updated",
		log.Int("max_batch_size", cfg.MaxBatchSize),
		log.Duration("max_wait", cfg.MaxWait),
		log.Int("previous_max_batch_size", prev.MaxBatchSize),
		log.Duration("previous_max_wait", prev.MaxWait),
	)
	return nil
}

// Config returns the current batching policy.
func (s *Scheduler[In, Out]) Config() Config {
	return *s.cfg.Load()
}

// State returns the current state of the collection loop.
func (s *Scheduler[In, Out]) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler[In, Out]) Stats() Stats {
	state := s.State()
	return Stats{
		Submitted: s.stats.submitted.Load(),
		Rejected:  s.stats.rejected.Load(),
		Batches:   s.stats.batches.Load(),
		Completed: s.stats.completed.Load(),
		Failed:    s.stats.failed.Load(),
		Canceled:  s.stats.canceled.Load(),
		Queued:    len(s.pending),
		State:     state,
		StateName: state.String(),
	}
}

// Close stops accepting items and drains the queue in batches, without
// waiting for partial batches to fill. Items still queued when the loop
// stops resolve with ErrShutdown.
//
// If ctx ends before the drain finishes, the in-flight processor call is
// canceled, the remaining items are failed in the background, and Close
// returns an error wrapping ErrShutdownTimeout. Close may be called more
// than once.
func (s *Scheduler[In, Out]) Close(ctx context.Context) error {
	s.mu.Lock()
	first := !s.closed
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if first {
		s.logger.Info("scheduler stopping", log.Int("queued", len(s.pending)))
		close(s.quit)
		if !started {
			s.finish()
		}
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.abortOnce.Do(func() {
			close(s.abort)
			s.procCancel()
		})
		s.logger.Warn("scheduler drain interrupted", log.Int("queued", len(s.pending)))
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

func (s *Scheduler[In, Out]) run() {
	b := NewBatch[In, Out](s.Config().MaxBatchSize)

	for !s.quitting() {
		first, ok := s.awaitFirst()
		if !ok {
			break
		}
		t0 := time.Now()
		cfg := s.Config()
		s.setState(StateCollecting)
		b.addEntry(first)
		s.collect(b, cfg, t0)
		s.dispatch(b, cfg)
		b.Reset()
	}

	s.drain(b)
	s.finish()
}

// awaitFirst returns the first live item of a cycle. It moves to Idle and
// blocks only when nothing is queued. It returns false once Close was called.
func (s *Scheduler[In, Out]) awaitFirst() (*entry[In, Out], bool) {
	for {
		select {
		case e := <-s.pending:
			if s.admit(e) {
				return e, true
			}
			continue
		default:
		}

		s.setState(StateIdle)
		select {
		case e := <-s.pending:
			if s.admit(e) {
				return e, true
			}
		case <-s.quit:
			return nil, false
		}
	}
}

// collect fills b until it holds cfg.MaxBatchSize items or cfg.MaxWait has
// elapsed since t0. After Close it stops waiting and takes only what is
// already queued.
func (s *Scheduler[In, Out]) collect(b *Batch[In, Out], cfg Config, t0 time.Time) {
	if b.Size() >= cfg.MaxBatchSize {
		return
	}
	remaining := cfg.MaxWait - time.Since(t0)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	for b.Size() < cfg.MaxBatchSize {
		select {
		case e := <-s.pending:
			if s.admit(e) {
				b.addEntry(e)
			}
		case <-timer.C:
			return
		case <-s.quit:
			s.fill(b, cfg.MaxBatchSize)
			return
		}
	}
}

// fill moves already queued items into b without blocking.
func (s *Scheduler[In, Out]) fill(b *Batch[In, Out], limit int) {
	for b.Size() < limit {
		select {
		case e := <-s.pending:
			if s.admit(e) {
				b.addEntry(e)
			}
		default:
			return
		}
	}
}

// admit reports whether e should join a batch. Items whose caller has
// already gone away are resolved with the context error instead.
func (s *Scheduler[In, Out]) admit(e *entry[In, Out]) bool {
	if err := e.ctx.Err(); err != nil {
		_ = e.handle.fail(err)
		s.stats.canceled.Add(1)
		return false
	}
	return true
}

func (s *Scheduler[In, Out]) dispatch(b *Batch[In, Out], cfg Config) {
	s.setState(StateDispatching)

	ctx, cancel := s.procCtx, context.CancelFunc(func() {})
	if cfg.DispatchTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.procCtx, cfg.DispatchTimeout)
	}
	defer cancel()

	size := b.Size()
	event := BatchEvent{Size: size, Wait: time.Since(b.firstEnqueued)}
	start := time.Now()
	outs, err := s.call(ctx, b.Items())
	event.Duration = time.Since(start)
	s.stats.batches.Add(1)

	switch {
	case err != nil:
		perr := &ProcessingError{Err: err, BatchSize: size}
		b.Fail(perr)
		event.Err = perr
		s.stats.failed.Add(int64(size))
		s.logger.Warn("batch processing failed",
			log.Int("size", size),
			log.Duration("took", event.Duration),
			log.Err(err),
		)
	default:
		if rerr := b.Resolve(outs); rerr != nil {
			event.Err = rerr
			s.stats.failed.Add(int64(size))
			s.logger.Error("processor broke result correspondence",
				log.Int("size", size),
				log.Int("results", len(outs)),
				log.Err(rerr),
			)
			break
		}
		s.stats.completed.Add(int64(size))
		s.logger.Debug("batch dispatched",
			log.Int("size", size),
			log.Duration("wait", event.Wait),
			log.Duration("took", event.Duration),
		)
	}

	s.observer.OnBatchDispatched(event)
}

// call runs the processor, turning a panic into an error.
func (s *Scheduler[In, Out]) call(ctx context.Context, items []In) (outs []Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return s.proc.Process(ctx, items)
}

// drain dispatches what is left in the queue after Close, batch by batch,
// until the queue is empty or the drain is aborted.
func (s *Scheduler[In, Out]) drain(b *Batch[In, Out]) {
	// No submitter can enqueue once quit is closed, so after this the queue
	// only shrinks.
	s.submitters.Wait()

	for {
		select {
		case <-s.abort:
			return
		default:
		}

		cfg := s.Config()
		s.fill(b, cfg.MaxBatchSize)
		if b.Empty() {
			return
		}
		s.setState(StateCollecting)
		s.dispatch(b, cfg)
		b.Reset()
	}
}

// finish fails everything still queued and marks the scheduler stopped.
func (s *Scheduler[In, Out]) finish() {
	s.submitters.Wait()

	dropped := 0
	for done := false; !done; {
		select {
		case e := <-s.pending:
			_ = e.handle.fail(ErrShutdown)
			dropped++
		default:
			done = true
		}
	}
	if dropped > 0 {
		s.stats.failed.Add(int64(dropped))
		s.logger.Warn("items failed at shutdown", log.Int("count", dropped))
	}

	s.setState(StateStopped)
	s.procCancel()
	close(s.stopped)
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler[In, Out]) quitting() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Scheduler[In, Out]) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Debug("state transition", log.String("from", prev.String()), log.String("to", next.String()))
	s.observer.OnStateChange(prev, next)
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/tashkil/pkg/log"
)

// Common lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrNotRunning        = errors.New("not running")
	ErrAlreadyRunning    = errors.New("already running")
	ErrShutdownTimeout   = errors.New("shutdown timeout")
)

// ShutdownTimeout is the default maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// DefaultManager implements Manager.
type DefaultManager struct {
	mu           sync.RWMutex
	state        State
	since        time.Time
	wg           sync.WaitGroup
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewManager creates a manager in StateStopped. Both arguments may be nil.
func NewManager(logger log.Logger, emitter EventEmitter) *DefaultManager {
	return &DefaultManager{
		state:        StateStopped,
		since:        time.Now(),
		logger:       log.OrNoop(logger).With(log.Component("lifecycle")),
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (m *DefaultManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since returns when the current state was entered.
func (m *DefaultManager) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// TransitionTo moves the state machine to newState.
func (m *DefaultManager) TransitionTo(newState State, reason string) error {
	m.mu.Lock()
	oldState := m.state
	if !oldState.CanTransitionTo(newState) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
	}
	m.state = newState
	m.since = time.Now()
	m.mu.Unlock()

	// Emit outside of lock
	if m.eventEmitter != nil {
		m.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	m.logger.Info("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

// CanStart returns true in StateStopped and StateCrashed.
func (m *DefaultManager) CanStart() bool {
	return m.State().CanTransitionTo(StateStarting)
}

// CanStop returns true in StateStarting and StateRunning.
func (m *DefaultManager) CanStop() bool {
	return m.State().CanTransitionTo(StateStopping)
}

// AddWorker registers one unit of work that Wait must see finish.
func (m *DefaultManager) AddWorker() {
	m.wg.Add(1)
}

// WorkerDone marks a unit registered with AddWorker as finished.
func (m *DefaultManager) WorkerDone() {
	m.wg.Done()
}

// Wait blocks until every registered worker is done or ctx ends.
func (m *DefaultManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("workers still running at shutdown deadline", log.Err(ctx.Err()))
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// WaitWithTimeout waits for registered workers for at most timeout.
func (m *DefaultManager) WaitWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.Wait(ctx)
}

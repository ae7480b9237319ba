package batch

import (
	"errors"
	"fmt"
)

// Scheduler errors. Check them with errors.Is.
var (
	// ErrValidation marks an item rejected before it entered the queue.
	ErrValidation = errors.New("batch: invalid item")

	// ErrProcessing matches every *ProcessingError.
	ErrProcessing = errors.New("batch: processing failed")

	// ErrResultMismatch is returned to every item of a batch whose processor
	// returned a different number of results than it was given items.
	ErrResultMismatch = errors.New("batch: result count mismatch")

	// ErrShutdown is returned for submissions after Close and for items still
	// pending when the scheduler stopped.
	ErrShutdown = errors.New("batch: scheduler shut down")

	// ErrShutdownTimeout is returned by Close when the drain did not finish
	// before its context expired.
	ErrShutdownTimeout = errors.New("batch: shutdown timeout")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("batch: already started")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("batch: invalid configuration")

	// ErrAlreadyResolved is returned when a handle is resolved a second time.
	ErrAlreadyResolved = errors.New("batch: handle already resolved")
)

// ProcessingError is the failure shared by every item of a batch whose
// processor call failed.
type ProcessingError struct {
	// Err is the cause returned (or panicked) by the processor.
	Err error

	// BatchSize is the number of items that failed together.
	BatchSize int
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("batch: processing %d items: %v", e.BatchSize, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProcessing.
func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessing
}

func newMismatchError(want, got int) error {
	return fmt.Errorf("%w: processor returned %d results for %d items", ErrResultMismatch, got, want)
}

package batch

import (
	"github.com/bft-labs/tashkil/pkg/log"
)

// Validator checks an item before it is queued. A non-nil error rejects the
// item; it is wrapped with ErrValidation unless it already matches it.
type Validator[In any] interface {
	Validate(item In) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc[In any] func(item In) error

// Validate calls f(item).
func (f ValidatorFunc[In]) Validate(item In) error {
	return f(item)
}

// Option configures optional behavior of a Scheduler.
type Option[In, Out any] func(*options[In, Out])

type options[In, Out any] struct {
	logger    log.Logger
	observers []Observer
	validator Validator[In]
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger[In, Out any](logger log.Logger) Option[In, Out] {
	return func(o *options[In, Out]) {
		o.logger = logger
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver[In, Out any](observer Observer) Option[In, Out] {
	return func(o *options[In, Out]) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithValidator sets the validator run by Submit before queueing.
func WithValidator[In, Out any](v Validator[In]) Option[In, Out] {
	return func(o *options[In, Out]) {
		o.validator = v
	}
}

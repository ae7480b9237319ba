package service

import (
	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
)

// Option configures optional behavior of a Service.
type Option func(*options)

type options struct {
	logger       log.Logger
	observers    []batch.Observer
	validator    batch.Validator[string]
	plugins      []Plugin
	eventHandler lifecycle.EventEmitter
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers a scheduler observer, e.g. a metrics collector.
func WithObserver(observer batch.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, observer)
	}
}

// WithValidator sets the check run on every text before it is queued.
func WithValidator(v batch.Validator[string]) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithPlugin registers a plugin to be initialized when the service starts.
// Plugins are initialized in registration order and shut down in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithEventHandler receives lifecycle state changes.
func WithEventHandler(handler lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

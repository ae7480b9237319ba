package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
)

// Config holds the configuration of a Service.
type Config struct {
	// Batch is the batching policy of the scheduler.
	Batch batch.Config

	// Device names the hardware the model runs on, as reported by health checks.
	// Default: "cpu"
	Device string

	// ShutdownTimeout bounds how long Stop waits for queued work to drain.
	// Default: 30s
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Batch:           batch.DefaultConfig(),
		Device:          "cpu",
		ShutdownTimeout: lifecycle.ShutdownTimeout,
	}
}

// Result is the outcome of one Diacritize call.
type Result struct {
	Text string

	// Latency is the time from submission to resolution.
	Latency time.Duration
}

// Service serves single-text requests through a batching scheduler.
// Use New to create an instance, then Start to begin serving.
type Service struct {
	cfg       Config
	opts      options
	proc      batch.Processor[string, string]
	lifecycle *lifecycle.DefaultManager
	logger    log.Logger

	mu        sync.RWMutex
	scheduler *batch.Scheduler[string, string]
	cancel    context.CancelFunc
}

// New creates a Service in lifecycle.StateStopped.
func New(cfg Config, proc batch.Processor[string, string], opts ...Option) (*Service, error) {
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = lifecycle.ShutdownTimeout
	}
	if err := cfg.Batch.Validate(); err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, errors.New("service: processor is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)

	return &Service{
		cfg:       cfg,
		opts:      o,
		proc:      proc,
		lifecycle: lifecycle.NewManager(logger, o.eventHandler),
		logger:    logger.With(log.Component("service")),
	}, nil
}

// Start launches the scheduler and initializes plugins.
// ctx bounds the lifetime of plugins; Stop cancels it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.lifecycle.CanStart() {
		s.mu.Unlock()
		return lifecycle.ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	sched, err := s.newScheduler()
	if err != nil {
		_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, "scheduler: "+err.Error())
		s.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.scheduler = sched
	s.cancel = cancel
	s.mu.Unlock()

	// Plugins may call back into Reconfigure, so the lock is not held here.
	pluginCfg := PluginConfig{Batch: s, Logger: s.opts.logger}
	for i, p := range s.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			s.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			cancel()
			s.shutdownPlugins(s.opts.plugins[:i])
			_ = sched.Close(context.Background())
			_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, "plugin init failed: "+p.Name())
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		s.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	return s.lifecycle.TransitionTo(lifecycle.StateRunning, "scheduler started")
}

func (s *Service) newScheduler() (*batch.Scheduler[string, string], error) {
	opts := []batch.Option[string, string]{
		batch.WithLogger[string, string](s.opts.logger),
	}
	for _, o := range s.opts.observers {
		opts = append(opts, batch.WithObserver[string, string](o))
	}
	if s.opts.validator != nil {
		opts = append(opts, batch.WithValidator[string, string](s.opts.validator))
	}

	sched, err := batch.New(s.cfg.Batch, s.proc, opts...)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}
	return sched, nil
}

// Stop stops accepting requests, drains queued work for up to
// Config.ShutdownTimeout, and shuts plugins down.
// Returns an error wrapping lifecycle.ErrShutdownTimeout if the drain was cut short.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.lifecycle.CanStop() {
		s.mu.Unlock()
		return lifecycle.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(lifecycle.StateStopping, "Stop() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	sched := s.scheduler
	cancel := s.cancel
	s.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer done()

	var errs []error
	if sched != nil {
		if err := sched.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.lifecycle.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	s.shutdownPlugins(s.opts.plugins)

	if len(errs) > 0 {
		_ = s.lifecycle.TransitionTo(lifecycle.StateCrashed, "shutdown timeout")
		return fmt.Errorf("%w: %w", lifecycle.ErrShutdownTimeout, errors.Join(errs...))
	}
	_ = s.lifecycle.TransitionTo(lifecycle.StateStopped, "graceful shutdown")
	return nil
}

func (s *Service) shutdownPlugins(plugins []Plugin) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			continue
		}
		s.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
	}
}

// Diacritize submits text to the scheduler and waits for its result.
// Returns lifecycle.ErrNotRunning unless the service is running.
func (s *Service) Diacritize(ctx context.Context, text string) (Result, error) {
	s.mu.RLock()
	if s.lifecycle.State() != lifecycle.StateRunning {
		s.mu.RUnlock()
		return Result{}, lifecycle.ErrNotRunning
	}
	s.lifecycle.AddWorker()
	sched := s.scheduler
	s.mu.RUnlock()
	defer s.lifecycle.WorkerDone()

	start := time.Now()
	out, err := sched.Submit(ctx, text)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency}, err
	}
	return Result{Text: out, Latency: latency}, nil
}

// Reconfigure replaces the batching policy. A running scheduler picks it up
// at its next cycle; otherwise it applies on the next Start.
func (s *Service) Reconfigure(cfg batch.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		if err := s.scheduler.Reconfigure(cfg); err != nil {
			return err
		}
		s.cfg.Batch = s.scheduler.Config()
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg.Batch = cfg
	return nil
}

// BatchConfig returns the current batching policy.
func (s *Service) BatchConfig() batch.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Batch
}

// Stats returns the scheduler counters. Zero before the first Start.
func (s *Service) Stats() batch.Stats {
	s.mu.RLock()
	sched := s.scheduler
	s.mu.RUnlock()

	if sched == nil {
		return batch.Stats{State: batch.StateStopped, StateName: batch.StateStopped.String()}
	}
	return sched.Stats()
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (s *Service) Status() lifecycle.State {
	return s.lifecycle.State()
}

// Device returns the configured device name.
func (s *Service) Device() string {
	return s.cfg.Device
}

// Package configwatcher reloads the batching policy of a running service
// when its config file changes.
package configwatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/log"
	"github.com/bft-labs/tashkil/pkg/service"
)

// ErrNoLoader is returned by Initialize when a path is set without a loader.
var ErrNoLoader = errors.New("configwatcher: path set without a loader")

// LoadFunc reads the batching policy from the watched file.
type LoadFunc func() (batch.Config, error)

// Plugin implements config watching functionality.
// It monitors one file and applies its batching policy through the
// service's BatchController when the file changes.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	path          string
	load          LoadFunc
	debounceDelay time.Duration

	// Runtime state
	ctrl     service.BatchController
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	reloads  int
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path of the config file to watch. Empty disables the plugin.
	Path string

	// Load re-reads the batching policy. Required when Path is set.
	Load LoadFunc

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}

	return &Plugin{
		path:          cfg.Path,
		load:          cfg.Load,
		debounceDelay: cfg.DebounceDelay,
		logger:        log.NoopLogger{},
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the config file's directory.
func (p *Plugin) Initialize(ctx context.Context, cfg service.PluginConfig) error {
	p.mu.Lock()
	p.ctrl = cfg.Batch
	p.logger = log.OrNoop(cfg.Logger).With(log.Component("configwatcher"))
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Info("config watcher disabled: no config file")
		return nil
	}
	if p.load == nil {
		return ErrNoLoader
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The directory survives editors that replace the file by rename.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		p.logger.Warn("config watcher disabled: cannot watch directory",
			log.String("path", p.path), log.Err(err))
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher started", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Reloads reports how many times a changed policy was applied.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// watchLoop watches for config file changes.
func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx, p.debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload applies the file's policy. A file that fails to load or validate
// leaves the running policy in place.
func (p *Plugin) reload() {
	next, err := p.load()
	if err != nil {
		p.logger.Warn("ignoring config change", log.String("path", p.path), log.Err(err))
		return
	}

	current := p.ctrl.BatchConfig()
	if next == current {
		p.logger.Debug("config changed but batching policy did not")
		return
	}

	if err := p.ctrl.Reconfigure(next); err != nil {
		p.logger.Warn("reconfigure rejected", log.Err(err))
		return
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()

	p.logger.Info("batching policy reloaded",
		log.Int("max_batch_size", next.MaxBatchSize),
		log.Duration("max_wait", next.MaxWait),
		log.Int("max_item_length", next.MaxItemLength),
		log.Duration("dispatch_timeout", next.DispatchTimeout),
	)
}

// Ensure Plugin implements service.Plugin.
var _ service.Plugin = (*Plugin)(nil)

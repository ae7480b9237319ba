package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/tashkil/internal/cliconfig"
	"github.com/bft-labs/tashkil/internal/metrics"
	"github.com/bft-labs/tashkil/internal/natsworker"
	"github.com/bft-labs/tashkil/internal/server"
	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
	"github.com/bft-labs/tashkil/pkg/processor"
	"github.com/bft-labs/tashkil/pkg/service"
	"github.com/bft-labs/tashkil/plugins/configwatcher"
)

const metricsNamespace = "tashkil"

// run wires the service and its transports and blocks until ctx is done
// or a transport fails.
func run(ctx context.Context, cfg cliconfig.Config, loader cliconfig.Loader, logger log.Logger) error {
	collector := metrics.NewCollector(metricsNamespace, logger)

	proc, device, err := buildProcessor(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The length limit follows the live policy so a reload changes it too.
	var svc *service.Service
	validate := batch.ValidatorFunc[string](func(text string) error {
		return processor.TextValidator{MaxLength: svc.BatchConfig().MaxItemLength}.Validate(text)
	})

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithObserver(collector),
		service.WithValidator(validate),
		service.WithEventHandler(collector.LifecycleEmitter()),
	}
	if cfg.WatchConfig && loader.Path != "" && cliconfig.FileExists(loader.Path) {
		opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{
			Path: loader.Path,
			Load: func() (batch.Config, error) {
				c, err := loader.Load()
				if err != nil {
					return batch.Config{}, err
				}
				return c.BatchConfig(), nil
			},
		}))
	}

	svc, err = service.New(service.Config{
		Batch:           cfg.BatchConfig(),
		Device:          device,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, proc, opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Addr
	srvCfg.RateLimit = cfg.RateLimit
	srvCfg.RateBurst = cfg.RateBurst
	srv := server.New(srvCfg, svc, collector, logger)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.NATSURL != "" {
		nc, err := connectNATS(cfg.NATSURL, logger)
		if err != nil {
			_ = svc.Stop()
			return err
		}
		defer nc.Close()

		worker, err := natsworker.New(natsworker.Config{
			Subject:    cfg.NATSSubject,
			QueueGroup: cfg.NATSQueue,
		}, nc, svc, logger)
		if err != nil {
			_ = svc.Stop()
			return err
		}
		g.Go(func() error { return worker.Run(gctx) })
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("transport failed", log.Err(runErr))
	} else {
		logger.Info("received signal, stopping")
	}

	stopErr := svc.Stop()
	if stopErr != nil {
		logger.Error("service stop", log.Err(stopErr))
	}
	return errors.Join(runErr, stopErr)
}

// buildProcessor returns the model processor behind a concurrency gate and
// the device to report.
func buildProcessor(ctx context.Context, cfg cliconfig.Config, logger log.Logger) (batch.Processor[string, string], string, error) {
	limiter := processor.NewLimiter(int64(cfg.MaxConcurrency))

	if cfg.Processor == cliconfig.ProcessorEcho {
		logger.Warn("using the echo processor; texts are returned unchanged")
		return processor.NewGate[string, string](limiter, processor.Echo{}), cfg.Device, nil
	}

	backend := processor.NewHTTPBackend(processor.HTTPBackendConfig{
		BaseURL:   cfg.BackendURL,
		AuthKey:   cfg.AuthKey,
		MaxLength: cfg.MaxLength,
		Timeout:   cfg.BackendTimeout,
	}, nil, logger)

	device := cfg.Device
	if cfg.ReadyTimeout > 0 {
		readyCtx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
		defer cancel()
		health, err := backend.WaitReady(readyCtx, lifecycle.NewBackoff(500*time.Millisecond, 10*time.Second))
		if err != nil {
			return nil, "", err
		}
		if health.Device != "" {
			device = health.Device
		}
	}

	return processor.NewGate[string, string](limiter, backend), device, nil
}

func connectNATS(url string, logger log.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("tashkil"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", log.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", log.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

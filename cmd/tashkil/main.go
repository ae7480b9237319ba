package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/tashkil/internal/cliconfig"
	"github.com/bft-labs/tashkil/pkg/log"
)

const helpDescription = `
Serve Arabic diacritization with adaptive micro-batching.

Single-text requests arriving over HTTP or NATS are grouped into small
batches before they reach the model, trading a few milliseconds of wait
for much higher accelerator throughput.

Highlights:
  - Batches fill up to --batch-size or close after --batch-wait.
  - The batching policy reloads from the config file without a restart.
  - Configure via file ($HOME/.tashkil/config.toml), TASHKIL_* env, or flags.
`

var exampleUsage = strings.TrimSpace(`
  tashkil --backend-url http://127.0.0.1:8000 --batch-size 16 --batch-wait 10ms
  tashkil --processor echo --addr :9000
  BATCH_SIZE=8 BATCH_WAIT_MS=8 PORT=8080 tashkil
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "tashkil",
		Short:         "Adaptive micro-batching gateway for an Arabic diacritization model",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			loader := cliconfig.Loader{Path: cfgFile, Base: cfg, Changed: changed}
			resolved, err := loader.Load()
			if err != nil {
				return err
			}

			logger := log.NewZerologAdapter(log.Options{
				Level:  resolved.LogLevel,
				Format: resolved.LogFormat,
			})
			logger.Info("configuration",
				log.Any("config", resolved.Redacted()),
				log.String("config_file", cfgFile),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, resolved, loader, logger)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.tashkil/config.toml)")
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	f.StringVar(&cfg.Device, "device", cfg.Device, "device name reported by /ping when the backend does not report one")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: trace, debug, info, warn, error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "time allowed to drain queued requests on shutdown")
	f.BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload the batching policy when the config file changes")

	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "maximum texts per model call")
	f.DurationVar(&cfg.BatchWait, "batch-wait", cfg.BatchWait, "how long a batch keeps collecting after its first text")
	f.IntVar(&cfg.MaxLength, "max-length", cfg.MaxLength, "maximum characters per text")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "pending request queue capacity")
	f.DurationVar(&cfg.DispatchTimeout, "dispatch-timeout", cfg.DispatchTimeout, "deadline for one model call (0 = none)")

	f.StringVar(&cfg.Processor, "processor", cfg.Processor, "model processor: http or echo")
	f.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "base URL of the model server")
	f.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "bearer token for the model server")
	f.DurationVar(&cfg.BackendTimeout, "backend-timeout", cfg.BackendTimeout, "HTTP timeout for model calls")
	f.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "how long to wait for the model server at startup (0 = skip)")
	f.IntVar(&cfg.MaxConcurrency, "max-concurrency", cfg.MaxConcurrency, "model calls allowed in flight at once")

	f.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "admitted /diacritize requests per second (0 = unlimited)")
	f.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "burst size for --rate-limit")

	f.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL; enables the NATS worker")
	f.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject to serve")
	f.StringVar(&cfg.NATSQueue, "nats-queue", cfg.NATSQueue, "NATS queue group")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tashkil:", err)
		os.Exit(1)
	}
}

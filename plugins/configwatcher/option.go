package configwatcher

import "github.com/bft-labs/tashkil/pkg/service"

// WithConfigWatcher returns a service Option that enables config file watching.
//
// Usage:
//
//	svc, err := service.New(cfg, proc,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path: "/etc/tashkil/config.toml",
//	        Load: loadBatchConfig,
//	    }),
//	)
func WithConfigWatcher(cfg Config) service.Option {
	return service.WithPlugin(New(cfg))
}

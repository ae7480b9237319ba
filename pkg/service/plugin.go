package service

import (
	"context"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/log"
)

// Plugin extends a Service with optional behavior.
type Plugin interface {
	// Name returns the plugin identifier used in logs.
	Name() string

	// Initialize is called once when the service starts. ctx is canceled
	// when the service stops.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called once when the service stops.
	Shutdown(ctx context.Context) error
}

// BatchController reads and replaces the batching policy of a running service.
type BatchController interface {
	BatchConfig() batch.Config
	Reconfigure(cfg batch.Config) error
}

// PluginConfig is handed to every plugin at initialization.
type PluginConfig struct {
	Batch  BatchController
	Logger log.Logger
}

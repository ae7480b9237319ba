// Package metrics exposes scheduler, service and HTTP metrics in the
// Prometheus format.
//
// A Collector owns a private registry. It implements batch.Observer, so it
// can be handed straight to the scheduler, and serves the registry through
// Handler.
package metrics

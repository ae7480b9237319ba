package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
)

// Batch outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeMismatch = "mismatch"
)

var schedulerStates = []batch.State{
	batch.StateIdle,
	batch.StateCollecting,
	batch.StateDispatching,
	batch.StateStopped,
}

// Collector records metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry
	logger   log.Logger

	batchesTotal    *prometheus.CounterVec
	batchItemsTotal *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchWait       prometheus.Histogram
	batchDuration   prometheus.Histogram
	rejectedTotal   prometheus.Counter
	schedulerState  *prometheus.GaugeVec
	serviceUp       prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics under namespace on a fresh registry,
// together with the Go runtime and process collectors.
func NewCollector(namespace string, logger log.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   log.OrNoop(logger).With(log.Component("metrics")),
	}

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of dispatched batches by outcome",
		},
		[]string{"outcome"},
	)

	c.batchItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Total number of items in dispatched batches by outcome",
		},
		[]string{"outcome"},
	)

	c.batchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Number of items per dispatched batch",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	c.batchWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_wait_seconds",
		Help:      "Time the oldest item of a batch spent queued before dispatch",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	c.batchDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Processor call duration per batch",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	c.rejectedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_items_total",
		Help:      "Total number of items rejected before queueing",
	})

	c.schedulerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_state",
			Help:      "1 for the current state of the collection loop, 0 otherwise",
		},
		[]string{"state"},
	)
	c.setSchedulerState(batch.StateIdle)

	c.serviceUp = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "service_up",
		Help:      "1 while the service is running",
	})

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// OnStateChange implements batch.Observer.
func (c *Collector) OnStateChange(_, current batch.State) {
	c.setSchedulerState(current)
}

// OnBatchDispatched implements batch.Observer.
func (c *Collector) OnBatchDispatched(event batch.BatchEvent) {
	outcome := OutcomeOK
	switch {
	case errors.Is(event.Err, batch.ErrResultMismatch):
		outcome = OutcomeMismatch
	case event.Err != nil:
		outcome = OutcomeFailed
	}

	c.batchesTotal.WithLabelValues(outcome).Inc()
	c.batchItemsTotal.WithLabelValues(outcome).Add(float64(event.Size))
	c.batchSize.Observe(float64(event.Size))
	c.batchWait.Observe(event.Wait.Seconds())
	c.batchDuration.Observe(event.Duration.Seconds())
}

// OnItemRejected implements batch.Observer.
func (c *Collector) OnItemRejected(error) {
	c.rejectedTotal.Inc()
}

// LifecycleEmitter returns an emitter that tracks the service_up gauge.
func (c *Collector) LifecycleEmitter() lifecycle.EventEmitter {
	return lifecycle.EventEmitterFunc(func(_, current lifecycle.State, reason string) {
		if current == lifecycle.StateRunning {
			c.serviceUp.Set(1)
			return
		}
		c.serviceUp.Set(0)
		if current == lifecycle.StateCrashed {
			c.logger.Warn("service crashed", log.String("reason", reason))
		}
	})
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) setSchedulerState(current batch.State) {
	for _, s := range schedulerStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.schedulerState.WithLabelValues(s.String()).Set(v)
	}
}

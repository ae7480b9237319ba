package natsworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
	"github.com/bft-labs/tashkil/pkg/service"
)

// Defaults for Config.
const (
	DefaultSubject        = "tashkil.diacritize"
	DefaultQueueGroup     = "tashkil"
	DefaultMaxInFlight    = 256
	DefaultRequestTimeout = 30 * time.Second
	DefaultDrainTimeout   = 10 * time.Second
)

// Reply error codes.
const (
	CodeInvalid     = "invalid_request"
	CodeUnavailable = "unavailable"
	CodeProcessing  = "processing_failed"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
)

// ErrNoConnection is returned by New when conn is nil.
var ErrNoConnection = errors.New("natsworker: nil connection")

// Config configures a Worker.
type Config struct {
	Subject    string
	QueueGroup string

	// MaxInFlight bounds concurrently handled messages. Further messages
	// wait in the subscription's pending buffer.
	MaxInFlight int

	// RequestTimeout bounds a single Diacritize call.
	RequestTimeout time.Duration

	// DrainTimeout bounds how long Run waits for the subscription to drain.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Subject:        DefaultSubject,
		QueueGroup:     DefaultQueueGroup,
		MaxInFlight:    DefaultMaxInFlight,
		RequestTimeout: DefaultRequestTimeout,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.QueueGroup == "" {
		c.QueueGroup = d.QueueGroup
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// Request is the payload of a diacritization message.
type Request struct {
	Text string `json:"text"`
}

// Reply is the payload sent back to the requester. Exactly one of Text or
// Error is meaningful.
type Reply struct {
	Text      string  `json:"text,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	Code      string  `json:"code,omitempty"`
}

// Diacritizer is the service surface the worker needs.
type Diacritizer interface {
	Diacritize(ctx context.Context, text string) (service.Result, error)
}

// Worker consumes requests from a NATS subject and replies with results.
type Worker struct {
	cfg    Config
	conn   *nats.Conn
	svc    Diacritizer
	logger log.Logger

	sem   *semaphore.Weighted
	ready chan struct{}

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a Worker on an established connection.
func New(cfg Config, conn *nats.Conn, svc Diacritizer, logger log.Logger) (*Worker, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:    cfg,
		conn:   conn,
		svc:    svc,
		logger: log.OrNoop(logger).With(log.Component("natsworker")),
		sem:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		ready:  make(chan struct{}),
	}, nil
}

// Ready is closed once the subscription is registered with the server.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Run subscribes and serves until ctx is done, then drains the
// subscription and waits for in-flight requests.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.conn.QueueSubscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", w.cfg.Subject, err)
	}
	if err := w.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	close(w.ready)

	w.logger.Info("nats worker listening",
		log.String("subject", w.cfg.Subject),
		log.String("queue", w.cfg.QueueGroup),
	)

	<-ctx.Done()

	var drainErr error
	if err := sub.Drain(); err != nil {
		drainErr = fmt.Errorf("drain subscription: %w", err)
	} else {
		w.awaitDrained(sub)
	}

	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.wg.Wait()

	w.logger.Info("nats worker stopped")
	return drainErr
}

func (w *Worker) awaitDrained(sub *nats.Subscription) {
	deadline := time.NewTimer(w.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for sub.IsValid() {
		select {
		case <-deadline.C:
			w.logger.Warn("subscription drain timed out", log.Duration("timeout", w.cfg.DrainTimeout))
			_ = sub.Unsubscribe()
			return
		case <-tick.C:
		}
	}
}

func (w *Worker) handleMessage(msg *nats.Msg) {
	if msg.Reply == "" {
		w.logger.Warn("dropping message without reply subject", log.String("subject", msg.Subject))
		return
	}

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		w.respond(msg, Reply{Error: lifecycle.ErrNotRunning.Error(), Code: CodeUnavailable})
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	// Blocks the subscription callback when MaxInFlight is reached.
	if err := w.sem.Acquire(context.Background(), 1); err != nil {
		w.wg.Done()
		return
	}

	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.respond(msg, w.process(msg.Data))
	}()
}

func (w *Worker) process(data []byte) Reply {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Error: "invalid request: " + err.Error(), Code: CodeInvalid}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequestTimeout)
	defer cancel()

	res, err := w.svc.Diacritize(ctx, req.Text)
	if err != nil {
		code := codeFor(err)
		if code != CodeInvalid {
			w.logger.Warn("diacritize failed", log.String("code", code), log.Err(err))
		}
		return Reply{Error: err.Error(), Code: code}
	}

	return Reply{
		Text:      res.Text,
		LatencyMS: math.Round(res.Latency.Seconds()*1000*100) / 100,
	}
}

func (w *Worker) respond(msg *nats.Msg, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		w.logger.Error("marshal reply", log.Err(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		w.logger.Warn("publish reply", log.Err(err))
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, batch.ErrValidation):
		return CodeInvalid
	case errors.Is(err, batch.ErrShutdown), errors.Is(err, lifecycle.ErrNotRunning):
		return CodeUnavailable
	case errors.Is(err, batch.ErrProcessing), errors.Is(err, batch.ErrResultMismatch):
		return CodeProcessing
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/tashkil/internal/metrics"
	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
	"github.com/bft-labs/tashkil/pkg/service"
)

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// RateLimit is the sustained number of /diacritize requests per second
	// admitted. Zero disables admission control.
	RateLimit float64

	// RateBurst is the token bucket size. Defaults to 1 when RateLimit is set.
	RateBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Diacritizer is the service surface the server needs.
type Diacritizer interface {
	Diacritize(ctx context.Context, text string) (service.Result, error)
	Stats() batch.Stats
	Status() lifecycle.State
	Device() string
}

// Server is the HTTP front end of a Diacritizer.
type Server struct {
	cfg     Config
	svc     Diacritizer
	metrics *metrics.Collector
	logger  log.Logger
	limiter *rate.Limiter

	mu   sync.Mutex
	addr net.Addr
}

// New creates a server. collector may be nil, which disables /metrics.
func New(cfg Config, svc Diacritizer, collector *metrics.Collector, logger log.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: collector,
		logger:  log.OrNoop(logger).With(log.Component("http-server")),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	diacritize := http.Handler(http.HandlerFunc(s.handleDiacritize))
	if s.limiter != nil {
		diacritize = RateLimit(s.limiter)(diacritize)
	}
	mux.Handle("POST /diacritize", diacritize)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, Metrics(s.metrics))
	}
	return Chain(mux, middlewares...)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", log.String("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Addr returns the bound address once Run is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

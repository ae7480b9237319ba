package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
)

const (
	batchEndpoint  = "/v1/batch"
	healthEndpoint = "/ping"

	// maxErrorBody caps how much of a failed response is kept in StatusError.
	maxErrorBody = 4 << 10
)

// ErrNotReady is returned by WaitReady when the backend never became healthy.
var ErrNotReady = errors.New("model backend not ready")

// HTTPClient abstracts HTTP request execution for testing and custom transports.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBackendConfig configures an HTTPBackend.
type HTTPBackendConfig struct {
	// BaseURL of the model server, e.g. "http://localhost:8000".
	BaseURL string

	// AuthKey is sent as a bearer token when set.
	AuthKey string

	// MaxLength is forwarded to the model as its truncation length.
	MaxLength int

	// Timeout bounds each request when no HTTPClient is supplied.
	// Default: 30s
	Timeout time.Duration
}

// StatusError is returned when the model server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.StatusCode, e.Body)
}

// Health is the model server's answer to a health probe.
type Health struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
}

type batchRequest struct {
	Texts     []string `json:"texts"`
	MaxLength int      `json:"max_length,omitempty"`
}

type batchResponse struct {
	Outputs []string `json:"outputs"`
}

// HTTPBackend sends each batch to a remote model server in a single POST.
type HTTPBackend struct {
	client    HTTPClient
	baseURL   string
	authKey   string
	maxLength int
	logger    log.Logger
}

// NewHTTPBackend creates a backend client. A nil client gets an
// *http.Client with cfg.Timeout.
func NewHTTPBackend(cfg HTTPBackendConfig, client HTTPClient, logger log.Logger) *HTTPBackend {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPBackend{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authKey:   cfg.AuthKey,
		maxLength: cfg.MaxLength,
		logger:    log.OrNoop(logger).With(log.Component("http-backend")),
	}
}

// Process sends texts to the model and returns one output per text.
func (b *HTTPBackend) Process(ctx context.Context, texts []string) ([]string, error) {
	payload, err := json.Marshal(batchRequest{Texts: texts, MaxLength: b.maxLength})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+batchEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("X-Batch-Size", strconv.Itoa(len(texts)))
	b.authorize(req)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}

	b.logger.Debug("batch inferred",
		log.String("request_id", requestID),
		log.Int("size", len(texts)),
		log.Int("outputs", len(out.Outputs)),
		log.Duration("took", time.Since(start)),
	)
	return out.Outputs, nil
}

// HealthCheck probes the model server once.
func (b *HTTPBackend) HealthCheck(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+healthEndpoint, nil)
	if err != nil {
		return Health{}, fmt.Errorf("create request: %w", err)
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return Health{}, err
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health response: %w", err)
	}
	if h.Status != "healthy" {
		return h, fmt.Errorf("%w: status %q", ErrNotReady, h.Status)
	}
	return h, nil
}

// WaitReady polls HealthCheck with backoff until the model server is
// healthy or ctx ends.
func (b *HTTPBackend) WaitReady(ctx context.Context, backoff *lifecycle.Backoff) (Health, error) {
	for attempt := 1; ; attempt++ {
		h, err := b.HealthCheck(ctx)
		if err == nil {
			b.logger.Info("model backend ready", log.String("device", h.Device), log.Int("attempts", attempt))
			return h, nil
		}

		b.logger.Warn("model backend not ready",
			log.Int("attempt", attempt),
			log.Duration("retry_in", backoff.Current()),
			log.Err(err),
		)
		if werr := backoff.Wait(ctx); werr != nil {
			return Health{}, fmt.Errorf("%w after %d attempts: %w", ErrNotReady, attempt, err)
		}
	}
}

func (b *HTTPBackend) authorize(req *http.Request) {
	if b.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.authKey)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/tashkil/internal/metrics"
	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/processor"
	"github.com/bft-labs/tashkil/pkg/service"
)

type fakeService struct {
	result service.Result
	err    error
	state  lifecycle.State
	panics bool
}

func (f *fakeService) Diacritize(context.Context, string) (service.Result, error) {
	if f.panics {
		panic("model exploded")
	}
	return f.result, f.err
}

func (f *fakeService) Stats() batch.Stats {
	return batch.Stats{Submitted: 3, Batches: 1, StateName: "Idle"}
}

func (f *fakeService) Status() lifecycle.State { return f.state }
func (f *fakeService) Device() string          { return "cuda" }

func startService(t *testing.T) *service.Service {
	t.Helper()
	cfg := service.DefaultConfig()
	cfg.Batch.MaxWait = time.Millisecond
	cfg.Device = "cpu"

	svc, err := service.New(cfg, processor.Echo{}, service.WithValidator(processor.TextValidator{MaxLength: 16}))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/diacritize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestDiacritize_OK(t *testing.T) {
	srv := New(DefaultConfig(), startService(t), nil, nil)

	rec := post(t, srv.Handler(), `{"text":"مرحبا"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	resp := decode[DiacritizeResponse](t, rec)
	assert.Equal(t, "مرحبا", resp.Text)
	assert.GreaterOrEqual(t, resp.LatencyMS, 0.0)
}

func TestDiacritize_LatencyRounded(t *testing.T) {
	fake := &fakeService{result: service.Result{Text: "x", Latency: 12345678 * time.Nanosecond}, state: lifecycle.StateRunning}
	srv := New(DefaultConfig(), fake, nil, nil)

	rec := post(t, srv.Handler(), `{"text":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12.35, decode[DiacritizeResponse](t, rec).LatencyMS)
}

func TestDiacritize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{"text":`, nil, http.StatusBadRequest},
		{"validation", `{"text":"x"}`, fmt.Errorf("%w: text is empty", batch.ErrValidation), http.StatusBadRequest},
		{"not running", `{"text":"x"}`, lifecycle.ErrNotRunning, http.StatusServiceUnavailable},
		{"shutdown", `{"text":"x"}`, batch.ErrShutdown, http.StatusServiceUnavailable},
		{"processing", `{"text":"x"}`, &batch.ProcessingError{Err: errors.New("oom"), BatchSize: 4}, http.StatusBadGateway},
		{"mismatch", `{"text":"x"}`, batch.ErrResultMismatch, http.StatusBadGateway},
		{"unknown", `{"text":"x"}`, errors.New("surprise"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(DefaultConfig(), &fakeService{err: tt.err, state: lifecycle.StateRunning}, nil, nil)
			rec := post(t, srv.Handler(), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestDiacritize_ValidationThroughService(t *testing.T) {
	srv := New(DefaultConfig(), startService(t), nil, nil)

	rec := post(t, srv.Handler(), `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv.Handler(), `{"text":"this text is far too long"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiacritize_MethodNotAllowed(t *testing.T) {
	srv := New(DefaultConfig(), &fakeService{state: lifecycle.StateRunning}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/diacritize", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPing(t *testing.T) {
	fake := &fakeService{state: lifecycle.StateRunning}
	h := New(DefaultConfig(), fake, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PingResponse{Status: "healthy", Device: "cuda"}, decode[PingResponse](t, rec))

	fake.state = lifecycle.StateStopping
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[PingResponse](t, rec).Status)
}

func TestStats(t *testing.T) {
	h := New(DefaultConfig(), &fakeService{state: lifecycle.StateRunning}, nil, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, float64(3), got["submitted"])
	assert.Equal(t, "Idle", got["state"])
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector("tashkil", nil)
	h := New(DefaultConfig(), &fakeService{state: lifecycle.StateRunning, result: service.Result{Text: "x"}}, collector, nil).Handler()

	post(t, h, `{"text":"x"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `tashkil_http_requests_total{method="POST",path="/diacritize",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	h := New(cfg, &fakeService{state: lifecycle.StateRunning, result: service.Result{Text: "x"}}, nil, nil).Handler()

	assert.Equal(t, http.StatusOK, post(t, h, `{"text":"x"}`).Code)
	rec := post(t, h, `{"text":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	h := New(DefaultConfig(), &fakeService{state: lifecycle.StateRunning, panics: true}, nil, nil).Handler()
	rec := post(t, h, `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestRun_GracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, &fakeService{state: lifecycle.StateRunning}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr().String() + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

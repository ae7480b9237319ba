package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/tashkil/pkg/lifecycle"
)

func TestHTTPBackend_Process(t *testing.T) {
	var gotReq batchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/batch", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.Header.Get("X-Batch-Size"))
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		out := make([]string, len(gotReq.Texts))
		for i, text := range gotReq.Texts {
			out[i] = text + "َ"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(batchResponse{Outputs: out})
	}))
	defer server.Close()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL + "/", AuthKey: "secret", MaxLength: 512}, nil, nil)
	outs, err := backend.Process(context.Background(), []string{"كتب", "قرأ"})

	require.NoError(t, err)
	assert.Equal(t, []string{"كتبَ", "قرأَ"}, outs)
	assert.Equal(t, 512, gotReq.MaxLength)
}

func TestHTTPBackend_ProcessStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "CUDA out of memory", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL}, nil, nil)
	_, err := backend.Process(context.Background(), []string{"a"})

	var serr *StatusError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Equal(t, "CUDA out of memory", serr.Body)
}

func TestHTTPBackend_ProcessBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL}, nil, nil)
	_, err := backend.Process(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode batch response")
}

func TestHTTPBackend_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Health{Status: "healthy", Device: "cuda"})
	}))
	defer server.Close()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL}, nil, nil)
	h, err := backend.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cuda", h.Device)
}

func TestHTTPBackend_WaitReadyRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(Health{Status: "loading"})
			return
		}
		_ = json.NewEncoder(w).Encode(Health{Status: "healthy", Device: "cpu"})
	}))
	defer server.Close()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL}, nil, nil)
	h, err := backend.WaitReady(context.Background(), lifecycle.NewBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "cpu", h.Device)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPBackend_WaitReadyGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL}, nil, nil)
	_, err := backend.WaitReady(ctx, lifecycle.NewBackoff(5*time.Millisecond, 10*time.Millisecond))

	require.ErrorIs(t, err, ErrNotReady)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestHTTPBackend_CustomClient(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("Authorization"))
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"outputs":["x"]}`)),
		}, nil
	})

	backend := NewHTTPBackend(HTTPBackendConfig{BaseURL: "http://model"}, client, nil)
	outs, err := backend.Process(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, outs)
}

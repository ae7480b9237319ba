package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/lifecycle"
	"github.com/bft-labs/tashkil/pkg/log"
)

// DiacritizeRequest is the body of POST /diacritize.
type DiacritizeRequest struct {
	Text string `json:"text"`
}

// DiacritizeResponse is the success body of POST /diacritize.
type DiacritizeResponse struct {
	Text      string  `json:"text"`
	LatencyMS float64 `json:"latency_ms"`
}

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDiacritize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req DiacritizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	res, err := s.svc.Diacritize(r.Context(), req.Text)
	if err != nil {
		if r.Context().Err() != nil && !errors.Is(err, batch.ErrProcessing) {
			// Client went away; nobody is left to read a reply.
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("diacritize failed",
				log.String("request_id", RequestIDFromContext(r.Context())),
				log.Int("status", status),
				log.Err(err),
			)
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, DiacritizeResponse{
		Text:      res.Text,
		LatencyMS: roundMillis(res.Latency.Seconds() * 1000),
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Status() != lifecycle.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, PingResponse{Status: "unavailable", Device: s.svc.Device()})
		return
	}
	writeJSON(w, http.StatusOK, PingResponse{Status: "healthy", Device: s.svc.Device()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

// statusFor maps a Diacritize error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrShutdown), errors.Is(err, lifecycle.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, batch.ErrProcessing), errors.Is(err, batch.ErrResultMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func roundMillis(ms float64) float64 {
	return math.Round(ms*100) / 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

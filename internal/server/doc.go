// Package server exposes a Service over HTTP.
//
// Routes:
//
//	POST /diacritize  {"text": "..."} -> {"text": "...", "latency_ms": 12.34}
//	GET  /ping        health and device
//	GET  /stats       scheduler counters
//	GET  /metrics     Prometheus exposition
package server

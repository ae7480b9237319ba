// Package processor provides batch.Processor implementations for text
// models and the helpers that sit around them.
//
// HTTPBackend forwards each batch to a remote model server in one request.
// Echo returns its input and is meant for local runs. Gate bounds how many
// batches may be in flight on a shared model across schedulers, and
// TextValidator rejects texts the model cannot take before they are queued.
//
//	backend := processor.NewHTTPBackend(processor.HTTPBackendConfig{
//	    BaseURL:   "http://model:8000",
//	    MaxLength: 1024,
//	}, nil, logger)
//	limiter := processor.NewLimiter(1)
//	proc := processor.NewGate[string, string](limiter, backend)
package processor

// Package log provides the structured logging abstraction used across tashkil.
//
// Components never talk to a logging library directly. They accept a Logger
// and emit messages with typed fields, which keeps the scheduler library
// usable from programs that log with something other than zerolog.
//
// # Usage
//
// Use the zerolog adapter in binaries:
//
//	logger := log.NewZerologAdapter(log.Options{Level: "debug", Format: log.FormatJSON})
//	logger.Info("batch dispatched", log.Int("size", 8))
//
// Derive component loggers with With:
//
//	schedLog := logger.With(log.String("component", "scheduler"))
//
// Use the no-op logger in tests and as a library default:
//
//	logger := log.NewNoopLogger()
package log

// Package lifecycle tracks the running state of a long-lived service and
// paces retries against slow dependencies.
//
// A Manager enforces the service state machine and counts the work that
// must finish before the service counts as stopped:
//
//	m := lifecycle.NewManager(logger, nil)
//	if err := m.TransitionTo(lifecycle.StateStarting, "start requested"); err != nil {
//	    return err
//	}
//	_ = m.TransitionTo(lifecycle.StateRunning, "ready")
//
//	m.AddWorker()
//	go func() {
//	    defer m.WorkerDone()
//	    handle(req)
//	}()
//
//	_ = m.TransitionTo(lifecycle.StateStopping, "stop requested")
//	err := m.WaitWithTimeout(lifecycle.ShutdownTimeout)
//
// Valid transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// Backoff is an exponential delay with ±20% jitter. Its Wait method honors
// a context, so a readiness probe can be abandoned on shutdown.
package lifecycle

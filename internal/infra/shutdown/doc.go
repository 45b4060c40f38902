// Package shutdown provides graceful shutdown for shardis.
//
// This package handles process termination signals:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - Timeout-based forced shutdown
//   - Named cleanup hook registration, run in reverse order
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown("server", srv.Shutdown)
//	err := h.Wait() // blocks until a signal arrives
package shutdown

// Package metricsserver provides the HTTP observability endpoint for
// shardis.
//
// It uses the Go standard library net/http for the server itself and
// serves the Prometheus exposition format via promhttp.
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/shardis/shardis/internal/telemetry/metric"
)

// Server serves /metrics and /healthz.
type Server struct {
	httpServer *http.Server
}

// New creates a new metrics server for the given registry.
func New(addr string, metrics *metric.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

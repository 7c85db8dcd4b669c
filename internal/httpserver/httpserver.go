// Package httpserver exposes Prometheus metrics and a liveness/readiness
// probe over HTTP, grounded in the teacher's serveProm/HealthHandler pair
// (_examples/kahf-infra-traefik-officer/pkg/http.go, health.go) and
// generalized from "one log pipeline" health to "N active followers".
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// Status is the JSON body served at /health.
type Status struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	ActiveStreams  int    `json:"activeStreams"`
	WatcherHealthy bool   `json:"watcherHealthy"`
}

// Server owns the shared metrics+health mux. StreamCount is polled at
// request time rather than pushed, since the supervisor already tracks
// it authoritatively (internal/supervisor.Count).
type Server struct {
	Addr        string
	StreamCount func() int

	startedAt time.Time
	watcherOK atomic.Bool
	srv       *http.Server
}

// New constructs a Server. watcherOK starts true; call SetWatcherHealthy
// to flip it once the watcher backend reports a terminal error.
func New(addr string, streamCount func() int) *Server {
	s := &Server{Addr: addr, StreamCount: streamCount, startedAt: time.Now()}
	s.watcherOK.Store(true)
	return s
}

// SetWatcherHealthy records whether the pod watcher is still running.
func (s *Server) SetWatcherHealthy(ok bool) {
	s.watcherOK.Store(ok)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	streams := 0
	if s.StreamCount != nil {
		streams = s.StreamCount()
	}
	healthy := s.watcherOK.Load()

	status := Status{
		Status:         "healthy",
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		ActiveStreams:  streams,
		WatcherHealthy: healthy,
	}
	if !healthy {
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to start. It shuts down gracefully on cancellation.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.srv = &http.Server{Addr: s.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("metrics and health server listening on %s", s.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

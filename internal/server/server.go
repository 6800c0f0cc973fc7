// Package server exposes the canWhat engine over HTTP: /canwhat resolves
// one principal's effective policy and /diff combines two, both served on
// the main endpoint; /metrics serves Prometheus scrapes on its own
// endpoint, as a separate server entirely.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/0xKirisame/canwhat/internal/actioncatalog"
	"github.com/0xKirisame/canwhat/internal/metrics"
	"github.com/0xKirisame/canwhat/internal/pipeline"
)

// Server is the canwhat HTTP surface.
type Server struct {
	engine     *pipeline.Engine
	catalog    *actioncatalog.Catalog
	log        *slog.Logger
	metrics    *metrics.Metrics
	srv        *http.Server
	metricsSrv *http.Server
}

// New creates a new Server. addr serves /canwhat and /diff; metricsAddr
// serves /metrics on its own listener so metrics scraping never competes
// with request traffic for the same server's timeouts.
func New(addr, metricsAddr string, engine *pipeline.Engine, catalog *actioncatalog.Catalog, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{engine: engine, catalog: catalog, log: log, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("/canwhat", s.handleCanWhat)
	mux.HandleFunc("/diff", s.handleDiff)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if m != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", m.Handler())
		s.metricsSrv = &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

// Start begins listening and serving on both the main and metrics
// endpoints, tracked under one sync.WaitGroup. It blocks until the context
// is cancelled, then waits for both servers to finish shutting down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.Info("canwhat HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("canwhat server: %w", err)
		}
	}()

	if s.metricsSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("metrics server listening", "addr", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case <-ctx.Done():
		s.log.Info("shutting down canwhat and metrics servers")
	}

	_ = s.srv.Shutdown(context.Background())
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Shutdown(context.Background())
	}
	wg.Wait()

	return runErr
}

func (s *Server) handleCanWhat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principal := r.URL.Query().Get("principal")
	shrink := r.URL.Query().Get("shrink") == "true"

	doc, err := s.engine.CanWhat(r.Context(), pipeline.Options{Principal: principal, ShrinkActionLists: shrink})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, doc)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	op := pipeline.DiffOp(r.URL.Query().Get("op"))
	if a == "" || b == "" {
		writeError(w, s.log, &pipeline.InvalidInputError{Reason: "both ?a= and ?b= principal ARNs are required"})
		return
	}

	docA, err := s.engine.CanWhat(r.Context(), pipeline.Options{Principal: a})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	docB, err := s.engine.CanWhat(r.Context(), pipeline.Options{Principal: b})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	result, err := pipeline.Diff(docA, docB, op, s.catalog)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// writeError maps the error taxonomy to HTTP status codes: InvalidInput
// -> 400, UpstreamFailure -> 502, anything else -> 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *pipeline.InvalidInputError:
		status = http.StatusBadRequest
	case *pipeline.UpstreamFailure:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error("canwhat request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

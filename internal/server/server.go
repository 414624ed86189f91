// Package server exposes the in-progress report over HTTP: a snapshot
// endpoint, operation termination by handle, Prometheus metrics and a
// health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrzor/currentop/internal/filter"
	"github.com/mrzor/currentop/internal/metrics"
	"github.com/mrzor/currentop/internal/opid"
	"github.com/mrzor/currentop/internal/output"
	"github.com/mrzor/currentop/internal/snapshot"
)

// Terminate outcomes, used as the metrics label.
const (
	OutcomeTerminated = "terminated"
	OutcomeMalformed  = "malformed"
	OutcomeNotFound   = "not_found"
	OutcomeFailed     = "failed"
)

// Reader is the read side the server needs from a snapshot.Reader.
type Reader interface {
	Capacity() int
	Snapshot(ctx context.Context) ([]snapshot.Operation, error)
	Lookup(h opid.Handle) (snapshot.Operation, error)
}

// Terminator interrupts a running operation. It returns an error when the
// worker is no longer running operation seq.
type Terminator interface {
	Terminate(worker int, seq uint32) error
}

// Options configure the handler. Terminator and Gatherer are optional.
type Options struct {
	Terminator Terminator
	Gatherer   prometheus.Gatherer
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Server serves the report API.
type Server struct {
	reader     Reader
	terminator Terminator
	metrics    *metrics.Collector
	logger     *slog.Logger
	now        func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type terminateResponse struct {
	OpID   string `json:"opid"`
	Status string `json:"status"`
}

// NewHandler builds the router.
func NewHandler(reader Reader, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		reader:     reader,
		terminator: opts.Terminator,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        time.Now,
	}
	return s.routes(opts.Gatherer)
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/currentop", s.currentOp)
	r.Get("/ops/{opid}", s.getOp)
	r.Delete("/ops/{opid}", s.terminateOp)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// currentOp handles GET /currentop?filter=EXPR.
func (s *Server) currentOp(w http.ResponseWriter, r *http.Request) {
	f, err := filter.Compile(r.URL.Query().Get("filter"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	taken := s.now()
	ops, err := s.reader.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("snapshot interrupted", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	ops, err = f.Apply(ops)
	if err != nil {
		s.logger.Debug("filter dropped operations", "filter", f.String(), "error", err)
	}
	s.writeJSON(w, http.StatusOK, output.NewReport(taken, ops))
}

// getOp handles GET /ops/{opid}.
func (s *Server) getOp(w http.ResponseWriter, r *http.Request) {
	op, status, err := s.lookup(chi.URLParam(r, "opid"))
	if err != nil {
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, http.StatusOK, output.NewRecord(&op))
}

// terminateOp handles DELETE /ops/{opid}.
func (s *Server) terminateOp(w http.ResponseWriter, r *http.Request) {
	if s.terminator == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("termination is not supported by this host"))
		return
	}

	op, status, err := s.lookup(chi.URLParam(r, "opid"))
	if err != nil {
		outcome := OutcomeNotFound
		if status == http.StatusBadRequest {
			outcome = OutcomeMalformed
		}
		s.metrics.Terminated(outcome)
		s.writeError(w, status, err)
		return
	}

	worker, seq, _ := op.OpID.Decode(s.reader.Capacity())
	if err := s.terminator.Terminate(worker, seq); err != nil {
		s.metrics.Terminated(OutcomeFailed)
		s.writeError(w, http.StatusConflict, err)
		return
	}

	s.metrics.Terminated(OutcomeTerminated)
	s.logger.Info("operation terminated", "opid", op.OpID, "worker", worker, "command", op.CommandName)
	s.writeJSON(w, http.StatusAccepted, terminateResponse{OpID: op.OpID.String(), Status: OutcomeTerminated})
}

// lookup resolves a handle from the URL to its current operation, with the
// HTTP status that fits a failure.
func (s *Server) lookup(text string) (snapshot.Operation, int, error) {
	h, _, _, err := opid.Parse(text, s.reader.Capacity())
	switch {
	case errors.Is(err, opid.ErrMalformed):
		return snapshot.Operation{}, http.StatusBadRequest, err
	case err != nil:
		return snapshot.Operation{}, http.StatusNotFound, err
	}
	op, err := s.reader.Lookup(h)
	if err != nil {
		return snapshot.Operation{}, http.StatusNotFound, err
	}
	return op, http.StatusOK, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

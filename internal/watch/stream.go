// Package watch takes snapshots on a fixed interval and dispatches them to
// output handlers.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mrzor/currentop/internal/filter"
	"github.com/mrzor/currentop/internal/output"
	"github.com/mrzor/currentop/internal/snapshot"
)

// Snapshotter takes one snapshot. *snapshot.Reader implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]snapshot.Operation, error)
}

// Stream periodically snapshots a source and dispatches the result to its
// handlers.
type Stream struct {
	source   Snapshotter
	interval time.Duration
	filter   *filter.Filter
	handlers []output.SnapshotHandler
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a new Stream. A nil filter passes every operation.
func New(source Snapshotter, interval time.Duration, f *filter.Filter, logger *slog.Logger, handlers ...output.SnapshotHandler) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{
		source:   source,
		interval: interval,
		filter:   f,
		handlers: handlers,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Run takes a snapshot every interval until ctx is cancelled or Stop is
// called. Handler and filter errors are logged; the stream keeps going.
func (s *Stream) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("snapshot dispatch failed", "error", err)
			}
		}
	}
}

// Stop signals Run to return. It is safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Tick takes one snapshot and hands it to every handler.
func (s *Stream) Tick(ctx context.Context) error {
	ops, err := s.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	taken := s.now()

	ops, filterErr := s.filter.Apply(ops)
	if filterErr != nil {
		s.logger.Warn("filter failed on some operations", "error", filterErr)
	}

	var errs []error
	for _, h := range s.handlers {
		if err := h.HandleSnapshot(ctx, taken, ops); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

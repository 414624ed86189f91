package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/currentop/internal/changecount"
	"github.com/mrzor/currentop/internal/metrics"
	"github.com/mrzor/currentop/internal/opid"
	"github.com/mrzor/currentop/internal/opmeta"
	"github.com/mrzor/currentop/internal/workerstatus"
)

// DefaultMaxRetries bounds how many torn copies of one slot a read discards
// before giving up on it.
const DefaultMaxRetries = 32

// ErrNotFound is returned by Lookup when the handle names no current operation:
// the worker is idle, has moved on to another operation, or could not be read.
var ErrNotFound = errors.New("operation not found")

// Operation is one in-flight operation as reported to the introspection layer.
type Operation struct {
	OpID             opid.Handle
	Worker           int
	PID              int32
	Active           bool
	StartedAt        time.Time
	MicrosecsRunning int64
	Activity         string
	Client           string
	AppName          string
	// SessionID is empty when the operation carried no usable session.
	SessionID     string
	Command       bson.Raw
	CommandName   string
	CommandLength uint32
	Truncated     bool
	// Unavailable is set when the slot never held still long enough to copy.
	// Only the status fields are meaningful then.
	Unavailable bool
}

// Options tune a Reader. The zero value is usable.
type Options struct {
	MaxRetries int
	Metrics    *metrics.Collector
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Reader takes snapshots. It is safe for concurrent use.
type Reader struct {
	store      *opmeta.Store
	source     workerstatus.Source
	maxRetries int
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewReader creates a reader over source. store may be nil when operation
// tracking is disabled; records then carry status fields only.
func NewReader(store *opmeta.Store, source workerstatus.Source, opts Options) (*Reader, error) {
	if source == nil {
		return nil, errors.New("snapshot: nil status source")
	}
	if store != nil && store.Capacity() != source.Capacity() {
		return nil, fmt.Errorf("snapshot: slot store holds %d slots but status source has %d workers",
			store.Capacity(), source.Capacity())
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/mrzor/currentop/internal/snapshot")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{
		store:      store,
		source:     source,
		maxRetries: opts.MaxRetries,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}, nil
}

// Capacity returns the number of workers swept.
func (r *Reader) Capacity() int {
	return r.source.Capacity()
}

// Snapshot reads every worker and returns the live operations in worker order.
// Cancellation stops the sweep between workers; the records gathered so far
// are returned with the context error.
func (r *Reader) Snapshot(ctx context.Context) ([]Operation, error) {
	ctx, span := r.tracer.Start(ctx, "snapshot")
	defer span.End()

	began := time.Now()
	capacity := r.source.Capacity()
	ops := make([]Operation, 0, capacity)
	unavailable := 0
	for worker := 0; worker < capacity; worker++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "sweep cancelled")
			span.RecordError(err)
			return ops, err
		}
		op, ok := r.ReadWorker(worker)
		if !ok {
			continue
		}
		if op.Unavailable {
			unavailable++
		}
		ops = append(ops, op)
	}

	r.metrics.SnapshotTaken(len(ops), time.Since(began))
	span.SetAttributes(
		attribute.Int("currentop.workers", capacity),
		attribute.Int("currentop.active", len(ops)),
		attribute.Int("currentop.unavailable", unavailable),
	)
	return ops, nil
}

// ReadWorker reads one worker. It reports false when the worker has no live
// operation.
func (r *Reader) ReadWorker(worker int) (Operation, bool) {
	var (
		md     opmeta.OperationMetadata
		status workerstatus.Status
		stable bool
	)
	counter := r.source.ChangeCounter(worker)
	var slot *opmeta.Slot
	if r.store != nil {
		slot = r.store.SlotAt(worker)
	}

	retries := 0
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		before := counter.Load()
		if !changecount.InProgress(before) {
			status = r.source.Status(worker)
			if status.Live() && slot != nil {
				slot.CopyTo(&md)
			}
			if changecount.Stable(before, counter.Load()) {
				stable = true
				break
			}
		}
		retries++
	}
	r.metrics.ReadRetried(retries)

	if !stable {
		// The status fields are atomic on their own, so a loose read is
		// still good enough to decide liveness and label the record.
		status = r.source.Status(worker)
		if !status.Live() {
			return Operation{}, false
		}
		r.metrics.Unavailable()
		r.logger.Warn("slot unavailable after retries", "worker", worker, "retries", retries)
		op := r.statusRecord(worker, status)
		op.Unavailable = true
		return op, true
	}
	if !status.Live() {
		return Operation{}, false
	}

	op := r.statusRecord(worker, status)
	if slot == nil {
		return op, true
	}
	if md.Sequence != 0 {
		op.OpID = opid.Encode(worker, md.Sequence)
	}
	op.SessionID = opmeta.DecodeSessionID(&md)
	cmd := opmeta.DecodeCommand(&md)
	op.Command = cmd.Raw
	op.CommandName = cmd.Name
	op.CommandLength = cmd.Length
	op.Truncated = cmd.Truncated
	return op, true
}

// Lookup locates the operation named by h in O(1). It fails with
// opid.ErrMalformed or opid.ErrOutOfRange for a bad handle, and ErrNotFound
// when the slot no longer holds that operation.
func (r *Reader) Lookup(h opid.Handle) (Operation, error) {
	worker, _, err := h.Decode(r.source.Capacity())
	if err != nil {
		return Operation{}, err
	}
	op, ok := r.ReadWorker(worker)
	if !ok || op.Unavailable || op.OpID != h {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return op, nil
}

func (r *Reader) statusRecord(worker int, status workerstatus.Status) Operation {
	clock := r.source.Clock()
	return Operation{
		Worker:           worker,
		PID:              status.PID,
		Active:           status.State == workerstatus.Active,
		StartedAt:        clock.ToWallClock(status.StartNanos),
		MicrosecsRunning: clock.ElapsedMicros(status.StartNanos, clock.Now()),
		Activity:         status.Activity,
		Client:           status.Client,
		AppName:          status.AppName,
	}
}

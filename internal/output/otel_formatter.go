package output

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/currentop/internal/attributes"
	"github.com/mrzor/currentop/internal/opid"
	"github.com/mrzor/currentop/internal/snapshot"
)

// OTELSpanInfo holds an open span and the latest record seen for it.
type OTELSpanInfo struct {
	Span trace.Span
	Last snapshot.Operation
}

// OTELFormatter formats operations as OpenTelemetry spans. An operation's
// span starts at its recorded start time and ends at the first snapshot that
// no longer contains it.
type OTELFormatter struct {
	mu       sync.Mutex
	tracer   trace.Tracer
	attrs    *attributes.Evaluator
	traceIDs *attributes.TraceIDEvaluator
	spans    map[opid.Handle]*OTELSpanInfo
	logger   *slog.Logger
}

// NewOTELFormatter creates a new OTELFormatter. attrs and traceIDs may be nil.
func NewOTELFormatter(tracer trace.Tracer, attrs *attributes.Evaluator, traceIDs *attributes.TraceIDEvaluator, logger *slog.Logger) *OTELFormatter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OTELFormatter{
		tracer:   tracer,
		attrs:    attrs,
		traceIDs: traceIDs,
		spans:    make(map[opid.Handle]*OTELSpanInfo),
		logger:   logger,
	}
}

// HandleSnapshot implements SnapshotHandler.
func (f *OTELFormatter) HandleSnapshot(ctx context.Context, taken time.Time, ops []snapshot.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[opid.Handle]struct{}, len(ops))
	for i := range ops {
		op := &ops[i]
		// Without a handle there is nothing to follow across snapshots.
		if op.OpID == 0 || op.Unavailable {
			continue
		}
		seen[op.OpID] = struct{}{}
		if info, ok := f.spans[op.OpID]; ok {
			info.Last = *op
			continue
		}
		f.spans[op.OpID] = &OTELSpanInfo{Span: f.startSpan(ctx, op), Last: *op}
	}

	for h, info := range f.spans {
		if _, ok := seen[h]; ok {
			continue
		}
		f.endSpan(info, taken)
		delete(f.spans, h)
	}
	return nil
}

// Flush ends every open span at the given time.
func (f *OTELFormatter) Flush(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, info := range f.spans {
		f.endSpan(info, at)
		delete(f.spans, h)
	}
}

// Open returns the number of operations with an open span.
func (f *OTELFormatter) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spans)
}

func (f *OTELFormatter) startSpan(ctx context.Context, op *snapshot.Operation) trace.Span {
	ctx, warnings := f.parentContext(ctx, op)

	name := op.CommandName
	if name == "" {
		name = "operation"
	}
	_, span := f.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(op.StartedAt),
	)
	if len(warnings) > 0 {
		span.SetAttributes(warnings...)
	}
	return span
}

// parentContext files the span under the operation's trace ID, when one can
// be derived, by parenting it on a remote span context.
func (f *OTELFormatter) parentContext(ctx context.Context, op *snapshot.Operation) (context.Context, []attribute.KeyValue) {
	if f.traceIDs == nil {
		return ctx, nil
	}
	traceID, warnings, err := f.traceIDs.EvaluateAndValidate(op)
	if err != nil {
		f.logger.Warn("failed to derive trace id", "opid", op.OpID, "error", err)
		return ctx, nil
	}
	if !traceID.IsValid() {
		return ctx, warnings
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     sessionSpanID(traceID),
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc), warnings
}

func (f *OTELFormatter) endSpan(info *OTELSpanInfo, at time.Time) {
	op := &info.Last
	info.Span.SetAttributes(
		attribute.Int64("currentop.opid", int64(op.OpID)),
		attribute.Int("currentop.worker", op.Worker),
		attribute.Int("process.pid", int(op.PID)),
		attribute.String("currentop.command_name", op.CommandName),
		attribute.Int64("currentop.command_length", int64(op.CommandLength)),
		attribute.Bool("currentop.truncated", op.Truncated),
		attribute.Int64("currentop.microsecs_running", op.MicrosecsRunning),
	)
	if op.SessionID != "" {
		info.Span.SetAttributes(attribute.String("currentop.lsid", op.SessionID))
	}
	if op.Client != "" {
		info.Span.SetAttributes(attribute.String("client.address", op.Client))
	}
	if op.AppName != "" {
		info.Span.SetAttributes(attribute.String("currentop.app_name", op.AppName))
	}
	if op.Truncated {
		info.Span.SetAttributes(attribute.String("_tracing_warning_0", "command truncated to its complete leading fields"))
	}
	if f.attrs != nil {
		if custom := f.attrs.EvaluateCustomAttributes(op); len(custom) > 0 {
			info.Span.SetAttributes(custom...)
		}
	}
	info.Span.End(trace.WithTimestamp(at))
}

// sessionSpanID derives a stable parent span ID from a trace ID, so every
// operation of a session shares one parent.
func sessionSpanID(traceID trace.TraceID) trace.SpanID {
	sum := sha256.Sum256(traceID[:])
	var id trace.SpanID
	copy(id[:], sum[:8])
	if !id.IsValid() {
		id[7] = 1
	}
	return id
}

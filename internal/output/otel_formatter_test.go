package output

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mrzor/currentop/internal/attributes"
	"github.com/mrzor/currentop/internal/config"
	"github.com/mrzor/currentop/internal/opid"
	"github.com/mrzor/currentop/internal/snapshot"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func findOp(t *testing.T, worker int, seq uint32, session string) snapshot.Operation {
	t.Helper()
	command, err := bson.Marshal(bson.D{{Key: "find", Value: "users"}, {Key: "$db", Value: "app"}})
	require.NoError(t, err)
	return snapshot.Operation{
		OpID:          opid.Encode(worker, seq),
		Worker:        worker,
		PID:           int32(100 + worker),
		Active:        true,
		StartedAt:     t0,
		AppName:       "billing",
		SessionID:     session,
		Command:       command,
		CommandName:   "find",
		CommandLength: uint32(len(command)),
	}
}

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestOTELFormatter_SpanFollowsOperationLifetime(t *testing.T) {
	recorder, provider := newRecorder()
	f := NewOTELFormatter(provider.Tracer("test"), nil, nil, nil)
	ctx := context.Background()
	op := findOp(t, 1, 7, "")

	require.NoError(t, f.HandleSnapshot(ctx, t0.Add(time.Second), []snapshot.Operation{op}))
	assert.Len(t, recorder.Started(), 1)
	assert.Empty(t, recorder.Ended())
	assert.Equal(t, 1, f.Open())

	op.MicrosecsRunning = 1_500_000
	require.NoError(t, f.HandleSnapshot(ctx, t0.Add(2*time.Second), []snapshot.Operation{op}))
	assert.Len(t, recorder.Started(), 1, "a running operation keeps its span")

	require.NoError(t, f.HandleSnapshot(ctx, t0.Add(3*time.Second), nil))
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, 0, f.Open())

	span := ended[0]
	assert.Equal(t, "find", span.Name())
	assert.Equal(t, t0, span.StartTime())
	assert.Equal(t, t0.Add(3*time.Second), span.EndTime())

	attrs := attrMap(span.Attributes())
	assert.Equal(t, int64(op.OpID), attrs["currentop.opid"].AsInt64())
	assert.Equal(t, int64(101), attrs["process.pid"].AsInt64())
	assert.Equal(t, int64(1_500_000), attrs["currentop.microsecs_running"].AsInt64(), "latest record wins")
	assert.Equal(t, "billing", attrs["currentop.app_name"].AsString())
	_, hasSession := attrs["currentop.lsid"]
	assert.False(t, hasSession)
}

func TestOTELFormatter_ReusedWorkerStartsNewSpan(t *testing.T) {
	recorder, provider := newRecorder()
	f := NewOTELFormatter(provider.Tracer("test"), nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.HandleSnapshot(ctx, t0, []snapshot.Operation{findOp(t, 0, 1, "")}))
	require.NoError(t, f.HandleSnapshot(ctx, t0.Add(time.Second), []snapshot.Operation{findOp(t, 0, 2, "")}))

	assert.Len(t, recorder.Started(), 2)
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, int64(opid.Encode(0, 1)), attrMap(recorder.Ended()[0].Attributes())["currentop.opid"].AsInt64())
}

func TestOTELFormatter_SkipsUntrackableRecords(t *testing.T) {
	recorder, provider := newRecorder()
	f := NewOTELFormatter(provider.Tracer("test"), nil, nil, nil)

	unavailable := findOp(t, 0, 1, "")
	unavailable.Unavailable = true
	untracked := findOp(t, 1, 1, "")
	untracked.OpID = 0

	require.NoError(t, f.HandleSnapshot(context.Background(), t0, []snapshot.Operation{unavailable, untracked}))
	assert.Empty(t, recorder.Started())
}

func TestOTELFormatter_SessionTraceAndCustomAttributes(t *testing.T) {
	recorder, provider := newRecorder()
	evaluator, err := attributes.NewEvaluator([]config.CustomAttribute{
		{Name: "db.collection", Expression: `command.find`},
	}, nil)
	require.NoError(t, err)
	traceIDs, err := attributes.NewTraceIDEvaluator("")
	require.NoError(t, err)
	f := NewOTELFormatter(provider.Tracer("test"), evaluator, traceIDs, nil)

	const session = "123e4567-e89b-12d3-a456-426614174000"
	ops := []snapshot.Operation{findOp(t, 0, 1, session), findOp(t, 1, 1, session)}
	require.NoError(t, f.HandleSnapshot(context.Background(), t0, ops))
	f.Flush(t0.Add(time.Minute))

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	for _, span := range ended {
		assert.Equal(t, "123e4567e89b12d3a456426614174000", span.SpanContext().TraceID().String())
		assert.Equal(t, ended[0].Parent().SpanID(), span.Parent().SpanID(), "operations of a session share a parent")
		attrs := attrMap(span.Attributes())
		assert.Equal(t, "users", attrs["db.collection"].AsString())
		assert.Equal(t, session, attrs["currentop.lsid"].AsString())
		assert.Equal(t, t0.Add(time.Minute), span.EndTime())
	}
}

func TestOTELFormatter_TruncatedWarning(t *testing.T) {
	recorder, provider := newRecorder()
	f := NewOTELFormatter(provider.Tracer("test"), nil, nil, nil)
	op := findOp(t, 0, 1, "")
	op.Truncated = true
	op.CommandLength = 4096

	require.NoError(t, f.HandleSnapshot(context.Background(), t0, []snapshot.Operation{op}))
	f.Flush(t0)

	require.Len(t, recorder.Ended(), 1)
	attrs := attrMap(recorder.Ended()[0].Attributes())
	assert.True(t, attrs["currentop.truncated"].AsBool())
	assert.Equal(t, int64(4096), attrs["currentop.command_length"].AsInt64())
	assert.Contains(t, attrs["_tracing_warning_0"].AsString(), "truncated")
}

func TestSessionSpanID_Stable(t *testing.T) {
	var a, b [16]byte
	a[0], b[0] = 1, 2

	assert.Equal(t, sessionSpanID(a), sessionSpanID(a))
	assert.NotEqual(t, sessionSpanID(a), sessionSpanID(b))
	assert.True(t, sessionSpanID(a).IsValid())
}

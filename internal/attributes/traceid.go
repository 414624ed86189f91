package attributes

import (
	"crypto/sha256"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/currentop/internal/snapshot"
)

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	program *vm.Program
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If exprStr is empty, operations are filed under their session id.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	if exprStr == "" {
		return &TraceIDEvaluator{}, nil
	}

	program, err := expr.Compile(exprStr, expr.Env(Template()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile trace-id expression: %w", err)
	}
	return &TraceIDEvaluator{program: program}, nil
}

// EvaluateAndValidate returns the trace ID for op and any warnings to attach
// to its span. A zero trace ID means the caller should let the SDK pick one.
//
// A result that is 32 hex chars or a UUID is used as is; anything else is
// hashed with SHA-256.
func (e *TraceIDEvaluator) EvaluateAndValidate(op *snapshot.Operation) (trace.TraceID, []attribute.KeyValue, error) {
	if op == nil {
		return trace.TraceID{}, nil, fmt.Errorf("no operation")
	}

	resultStr := op.SessionID
	if e.program != nil {
		output, err := expr.Run(e.program, Env(op))
		if err != nil {
			return trace.TraceID{}, nil, fmt.Errorf("failed to evaluate trace-id expression: %w", err)
		}
		resultStr = fmt.Sprint(output)
	}
	if resultStr == "" {
		return trace.TraceID{}, nil, nil
	}

	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}
	if u, err := uuid.Parse(resultStr); err == nil {
		return trace.TraceID(u), nil, nil
	}

	hash := sha256.Sum256([]byte(resultStr))
	var traceID trace.TraceID
	copy(traceID[:], hash[:16])

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID or UUID, used SHA-256 hash instead", resultStr)),
	}
	return traceID, warnings, nil
}

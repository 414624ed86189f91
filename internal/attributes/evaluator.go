package attributes

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/currentop/internal/config"
	"github.com/mrzor/currentop/internal/snapshot"
)

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	logger        *slog.Logger
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions.
func NewEvaluator(customAttrs []config.CustomAttribute, logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	exprEnv := Template()

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := expr.Compile(attr.Expression, expr.Env(exprEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		logger:        logger,
	}, nil
}

// EvaluateCustomAttributes evaluates the custom attributes for op.
// An expression that fails at run time is logged and skipped.
func (e *Evaluator) EvaluateCustomAttributes(op *snapshot.Operation) []attribute.KeyValue {
	if len(e.customAttrs) == 0 || op == nil {
		return nil
	}

	env := Env(op)
	var attrs []attribute.KeyValue
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			e.logger.Warn("failed to evaluate attribute expression",
				"attribute", customAttr.Name, "error", err)
			continue
		}
		attrs = append(attrs, expand(customAttr.Name, output)...)
	}
	return attrs
}

// expand turns a map result into one attribute per key (name.key) and any
// other result into a single string attribute.
func expand(name string, output any) []attribute.KeyValue {
	outputValue := reflect.ValueOf(output)
	if outputValue.Kind() != reflect.Map {
		return []attribute.KeyValue{attribute.String(name, fmt.Sprint(output))}
	}

	attrs := make([]attribute.KeyValue, 0, outputValue.Len())
	for _, key := range outputValue.MapKeys() {
		attrName := name + "." + sanitizeAttributeName(fmt.Sprint(key.Interface()))
		attrs = append(attrs, attribute.String(attrName, fmt.Sprint(outputValue.MapIndex(key).Interface())))
	}
	return attrs
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}

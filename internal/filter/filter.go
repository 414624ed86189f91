// Package filter selects operations from a snapshot with a boolean expression
// such as `command_name == "find" && secs_running > 1`.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mrzor/currentop/internal/attributes"
	"github.com/mrzor/currentop/internal/snapshot"
)

// Filter is a compiled predicate. A nil *Filter matches everything.
type Filter struct {
	program *vm.Program
	source  string
}

// Compile compiles source against the operation environment. Blank source
// yields a nil filter.
func Compile(source string) (*Filter, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(attributes.Template()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", source, err)
	}
	return &Filter{program: program, source: source}, nil
}

// Match reports whether op satisfies the filter.
func (f *Filter) Match(op *snapshot.Operation) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, attributes.Env(op))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter on worker %d: %w", op.Worker, err)
	}
	return out.(bool), nil
}

// Apply returns the operations in ops that match, in order. An operation the
// filter fails on is left out and its error joined into the result error.
func (f *Filter) Apply(ops []snapshot.Operation) ([]snapshot.Operation, error) {
	if f == nil {
		return ops, nil
	}
	var (
		kept []snapshot.Operation
		errs []error
	)
	for i := range ops {
		ok, err := f.Match(&ops[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			kept = append(kept, ops[i])
		}
	}
	return kept, errors.Join(errs...)
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

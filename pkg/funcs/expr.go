package funcs

import (
	"context"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/labeler"
	"github.com/logflow/labelflow/pkg/window"
)

// Compile compiles an expression label. Expressions see the window through
//
//	rows, entity, slice_number, start, stop
//	count(col), exists(col), sum(col), mean(col), median(col), std(col),
//	min(col), max(col), first(col), last(col), nunique(col), values(col)
//
// Passing "" to count or exists counts rows. A nil result leaves the window
// unlabelled.
func Compile(code string) (labeler.LabelFunc, error) {
	types := env(&window.Window{})
	// Bounds are times or positions depending on the index.
	types["start"], types["stop"] = nil, nil

	program, err := expr.Compile(code, expr.Env(types))
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFunction, "unable to compile expression").
			WithContext("expr", code)
	}
	return func(_ context.Context, w *window.Window) (any, error) {
		return run(program, code, w)
	}, nil
}

func run(program *vm.Program, code string, w *window.Window) (any, error) {
	result, err := expr.Run(program, env(w))
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFunction, "unable to evaluate expression").
			WithContext("expr", code).
			WithContext("entity", w.Entity)
	}
	return result, nil
}

func env(w *window.Window) map[string]interface{} {
	e := map[string]interface{}{
		"rows":         w.Len(),
		"entity":       w.Entity,
		"slice_number": w.Context.SliceNumber,
		"start":        indexValue(w.Context.Start),
		"stop":         indexValue(w.Context.Stop),
		"values":       w.Values,
	}
	for name, b := range builtins {
		e[name] = call(w, b.fn)
	}
	return e
}

func call(w *window.Window, agg Aggregate) func(column string) interface{} {
	return func(column string) interface{} {
		v, err := Column(column, agg)(context.Background(), w)
		if err != nil {
			// The VM turns panics into run errors.
			panic(err)
		}
		return v
	}
}

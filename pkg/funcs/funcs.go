// Package funcs provides the built-in labeling functions and compiles
// expression labels for the command line and job files.
package funcs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/logflow/labelflow/internal/model"
	"github.com/logflow/labelflow/pkg/config"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/labeler"
	"github.com/logflow/labelflow/pkg/window"
)

// Aggregate reduces the values of one column in a window. A nil result
// leaves the window unlabelled.
type Aggregate func(values []any) (any, error)

type builtin struct {
	fn Aggregate
	// needsColumn is false for aggregates that may count whole rows.
	needsColumn bool
}

var builtins = map[string]builtin{
	"count":   {fn: count},
	"exists":  {fn: exists},
	"sum":     {fn: sum, needsColumn: true},
	"mean":    {fn: numeric(stats.Mean), needsColumn: true},
	"median":  {fn: numeric(stats.Median), needsColumn: true},
	"std":     {fn: numeric(stats.StandardDeviationSample), needsColumn: true},
	"min":     {fn: numeric(stats.Min), needsColumn: true},
	"max":     {fn: numeric(stats.Max), needsColumn: true},
	"first":   {fn: first, needsColumn: true},
	"last":    {fn: last, needsColumn: true},
	"nunique": {fn: nunique, needsColumn: true},
}

// Names lists the built-in aggregates.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build turns function declarations into labeling functions, in order.
func Build(cfg []config.FunctionConfig) ([]labeler.LabelingFunction, error) {
	out := make([]labeler.LabelingFunction, 0, len(cfg))
	for i, c := range cfg {
		f, err := build(c)
		if err != nil {
			if lfErr, ok := err.(*lferrors.Error); ok {
				return nil, lfErr.WithContext("position", i)
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func build(c config.FunctionConfig) (labeler.LabelingFunction, error) {
	if c.Expr != "" {
		if c.Func != "" {
			return labeler.LabelingFunction{}, lferrors.New(lferrors.CodeInvalidFunction, "labeling function needs exactly one of func or expr").
				WithContext("name", c.Name)
		}
		if c.Name == "" {
			return labeler.LabelingFunction{}, lferrors.New(lferrors.CodeInvalidFunction, "expression labels need a name").
				WithContext("expr", c.Expr)
		}
		fn, err := Compile(c.Expr)
		if err != nil {
			return labeler.LabelingFunction{}, err
		}
		return labeler.LabelingFunction{Name: c.Name, Fn: fn}, nil
	}

	name := strings.ToLower(strings.TrimSpace(c.Func))
	b, ok := builtins[name]
	if !ok {
		return labeler.LabelingFunction{}, lferrors.New(lferrors.CodeInvalidFunction, "unknown labeling function").
			WithContext("func", c.Func).
			WithContext("available", Names())
	}
	if b.needsColumn && c.Column == "" {
		return labeler.LabelingFunction{}, lferrors.New(lferrors.CodeInvalidFunction, "labeling function needs a column").
			WithContext("func", name)
	}

	label := c.Name
	if label == "" {
		label = name
		if c.Column != "" {
			label += "_" + c.Column
		}
	}
	return labeler.LabelingFunction{Name: label, Fn: Column(c.Column, b.fn)}, nil
}

// Column applies an aggregate to one column. An empty column hands the
// aggregate one placeholder per row.
func Column(column string, agg Aggregate) labeler.LabelFunc {
	return func(_ context.Context, w *window.Window) (any, error) {
		if column == "" {
			rows := make([]any, w.Len())
			for i := range rows {
				rows[i] = true
			}
			return agg(rows)
		}
		return agg(w.Values(column))
	}
}

func count(values []any) (any, error) {
	n := int64(0)
	for _, v := range values {
		if v != nil {
			n++
		}
	}
	return n, nil
}

func exists(values []any) (any, error) {
	for _, v := range values {
		if v != nil {
			return true, nil
		}
	}
	return false, nil
}

// sum of an empty window is zero, not missing.
func sum(values []any) (any, error) {
	data, err := floats(values)
	if err != nil || len(data) == 0 {
		return 0.0, err
	}
	return stats.Sum(data)
}

// numeric adapts a stats reducer. Nulls are ignored; a window without
// numbers has no label.
func numeric(reduce func(stats.Float64Data) (float64, error)) Aggregate {
	return func(values []any) (any, error) {
		data, err := floats(values)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		v, err := reduce(data)
		if err != nil || math.IsNaN(v) {
			// Too few values, e.g. a sample deviation of one row.
			return nil, nil
		}
		return v, nil
	}
}

func floats(values []any) (stats.Float64Data, error) {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, lferrors.New(lferrors.CodeInvalidFunction, "column is not numeric").
				WithContext("value", fmt.Sprintf("%v", v)).
				WithContext("type", fmt.Sprintf("%T", v))
		}
		if !math.IsNaN(f) {
			data = append(data, f)
		}
	}
	return data, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func first(values []any) (any, error) {
	for _, v := range values {
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func last(values []any) (any, error) {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != nil {
			return values[i], nil
		}
	}
	return nil, nil
}

func nunique(values []any) (any, error) {
	seen := make(map[string]struct{})
	for _, v := range values {
		if v == nil {
			continue
		}
		seen[fmt.Sprintf("%T:%v", v, v)] = struct{}{}
	}
	return int64(len(seen)), nil
}

// indexValue exposes a window bound to expressions: a time for time
// indexes, an integer position otherwise.
func indexValue(i model.Index) any {
	if i.Kind == model.IndexTime {
		return i.Time()
	}
	return i.Value
}

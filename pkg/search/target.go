package search

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// Target is the parsed number of examples to collect per entity. Either
// Count is set (possibly Unbounded) or ByLabel holds per-label targets.
type Target struct {
	Count   int64
	ByLabel map[string]int64
}

// UnboundedTarget collects every valid window.
var UnboundedTarget = Target{Count: Unbounded}

// ParseTarget reads a target from the parameter surface: a positive
// integer, -1 or "inf" for unbounded, a numeric string, or a map of label
// value to count. A nil value is unbounded.
func ParseTarget(raw any) (Target, error) {
	switch v := raw.(type) {
	case nil:
		return UnboundedTarget, nil
	case Target:
		return v, nil
	case string:
		return parseTargetString(v)
	case float64:
		if math.IsInf(v, 1) {
			return UnboundedTarget, nil
		}
		if v != math.Trunc(v) {
			return Target{}, invalidTarget(raw)
		}
		return countTarget(int64(v), raw)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return countTarget(rv.Int(), raw)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return Target{}, invalidTarget(raw)
		}
		return countTarget(int64(rv.Uint()), raw)
	case reflect.Map:
		return parseTargetMap(rv)
	}
	return Target{}, invalidTarget(raw)
}

func parseTargetString(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "inf", "+inf", "infinity":
		return UnboundedTarget, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Target{}, invalidTarget(s)
	}
	return countTarget(n, s)
}

func countTarget(n int64, raw any) (Target, error) {
	if n == Unbounded {
		return UnboundedTarget, nil
	}
	if n < 1 {
		return Target{}, invalidTarget(raw).WithContext("reason", "count must be positive or -1")
	}
	return Target{Count: n}, nil
}

func parseTargetMap(rv reflect.Value) (Target, error) {
	if rv.Len() == 0 {
		return Target{}, invalidTarget(rv.Interface()).WithContext("reason", "no label targets")
	}

	byLabel := make(map[string]int64, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := Key(iter.Key().Interface())
		if !ok {
			return Target{}, invalidTarget(iter.Key().Interface()).WithContext("reason", "label value is not hashable")
		}
		if _, dup := byLabel[key]; dup {
			return Target{}, invalidTarget(key).WithContext("reason", "label value given twice")
		}

		t, err := ParseTarget(iter.Value().Interface())
		if err != nil {
			return Target{}, err
		}
		if t.ByLabel != nil || t.Count == Unbounded {
			return Target{}, invalidTarget(iter.Value().Interface()).
				WithContext("label", key).
				WithContext("reason", "per-label count must be a positive integer")
		}
		byLabel[key] = t.Count
	}
	return Target{ByLabel: byLabel}, nil
}

func invalidTarget(raw any) *lferrors.Error {
	return lferrors.New(lferrors.CodeInvalidTarget, "invalid number of examples per instance").
		WithContext("value", fmt.Sprintf("%v", raw))
}

// IsPerLabel reports whether the target is a per-label map.
func (t Target) IsPerLabel() bool {
	return t.ByLabel != nil
}

// IsUnbounded reports whether every valid window is wanted.
func (t Target) IsUnbounded() bool {
	return t.ByLabel == nil && t.Count == Unbounded
}

// Total returns the number of examples wanted per entity, or Unbounded.
func (t Target) Total() int64 {
	if t.ByLabel == nil {
		return t.Count
	}
	var n int64
	for _, c := range t.ByLabel {
		n += c
	}
	return n
}

// WantsMany reports whether a bounded target asks for more than one
// example per entity. An unbounded target does not: without a window size
// or gap it still yields the single window covering the whole log.
func (t Target) WantsMany() bool {
	return !t.IsUnbounded() && t.Total() > 1
}

// NewPolicy returns a fresh policy for one entity.
func (t Target) NewPolicy() Policy {
	if t.ByLabel != nil {
		return NewLabelSearch(t.ByLabel)
	}
	return NewExampleSearch(t.Count)
}

// String renders the target in the parameter surface syntax.
func (t Target) String() string {
	if t.ByLabel == nil {
		if t.Count == Unbounded {
			return "inf"
		}
		return strconv.FormatInt(t.Count, 10)
	}

	keys := make([]string, 0, len(t.ByLabel))
	for k := range t.ByLabel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, t.ByLabel[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Package search decides which labelled windows to keep and when an
// entity has produced enough examples.
package search

import (
	"fmt"
	"reflect"
)

// Labels maps labeling function names to the values they returned for one
// window. A nil value means the function produced no label.
type Labels map[string]any

// Unbounded is the expected count of a search without a target.
const Unbounded int64 = -1

// Policy tracks accepted examples for one entity.
type Policy interface {
	// IsValid reports whether a window's labels should be kept.
	IsValid(labels Labels) bool

	// Update records an accepted window.
	Update(labels Labels)

	// Reset clears the counts.
	Reset()

	// IsComplete reports whether the target has been reached.
	IsComplete() bool

	// IsFinite reports whether the search has a target at all.
	IsFinite() bool

	// ExpectedCount returns the number of examples wanted, or Unbounded.
	ExpectedCount() int64
}

// ExampleSearch accepts any fully labelled window until a fixed number of
// examples has been found.
type ExampleSearch struct {
	expected int64
	actual   int64
}

// NewExampleSearch returns a uniform search. Pass Unbounded for no limit.
func NewExampleSearch(expected int64) *ExampleSearch {
	return &ExampleSearch{expected: expected}
}

// IsValid requires every label to be present.
func (s *ExampleSearch) IsValid(labels Labels) bool {
	return !hasNull(labels)
}

// Update counts one example.
func (s *ExampleSearch) Update(Labels) {
	s.actual++
}

// Reset clears the count.
func (s *ExampleSearch) Reset() {
	s.actual = 0
}

// IsComplete reports whether the target count was reached.
func (s *ExampleSearch) IsComplete() bool {
	return s.IsFinite() && s.actual >= s.expected
}

// IsFinite reports whether the target is bounded.
func (s *ExampleSearch) IsFinite() bool {
	return s.expected != Unbounded
}

// ExpectedCount returns the target.
func (s *ExampleSearch) ExpectedCount() int64 {
	return s.expected
}

// ActualCount returns the number of accepted examples.
func (s *ExampleSearch) ActualCount() int64 {
	return s.actual
}

// LabelSearch collects a target number of examples per label value.
// Label values are matched by their printed form, so the boolean true
// and the string "true" name the same target.
type LabelSearch struct {
	expected map[string]int64
	actual   map[string]int64
	total    int64
}

// NewLabelSearch returns a per-label search.
func NewLabelSearch(expected map[string]int64) *LabelSearch {
	s := &LabelSearch{
		expected: make(map[string]int64, len(expected)),
		actual:   make(map[string]int64, len(expected)),
	}
	for k, v := range expected {
		s.expected[k] = v
		s.total += v
	}
	return s
}

// IsValid requires every label to be present and at least one of them to
// be a target value that is still wanted.
func (s *LabelSearch) IsValid(labels Labels) bool {
	if hasNull(labels) {
		return false
	}

	for _, v := range labels {
		key, ok := Key(v)
		if !ok {
			continue
		}
		want, targeted := s.expected[key]
		if !targeted {
			continue
		}
		if s.actual[key] < want {
			return true
		}
	}
	return false
}

// Update counts each label value of the window.
func (s *LabelSearch) Update(labels Labels) {
	for _, v := range labels {
		if key, ok := Key(v); ok {
			s.actual[key]++
		}
	}
}

// Reset clears the counts.
func (s *LabelSearch) Reset() {
	s.actual = make(map[string]int64, len(s.expected))
}

// IsComplete reports whether every target value reached its count.
func (s *LabelSearch) IsComplete() bool {
	for k, want := range s.expected {
		if s.actual[k] < want {
			return false
		}
	}
	return true
}

// IsFinite is always true for a per-label search.
func (s *LabelSearch) IsFinite() bool {
	return true
}

// ExpectedCount returns the sum of the per-label targets.
func (s *LabelSearch) ExpectedCount() int64 {
	return s.total
}

// ActualCounts returns a copy of the per-label counts.
func (s *LabelSearch) ActualCounts() map[string]int64 {
	out := make(map[string]int64, len(s.actual))
	for k, v := range s.actual {
		out[k] = v
	}
	return out
}

// Key returns the canonical form of a label value used for matching.
// Values that cannot be map keys are reported as not hashable.
func Key(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if !reflect.TypeOf(v).Comparable() {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}

func hasNull(labels Labels) bool {
	for _, v := range labels {
		if isNull(v) {
			return true
		}
	}
	return false
}

// isNull treats nil, typed nil pointers and NaN as missing.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case float64:
		return x != x
	case float32:
		return x != x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

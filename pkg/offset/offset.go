// Package offset models distances and points along an event log index.
//
// An Offset is one of four variants: a row count (Position), a fixed time
// span (Duration), a calendar-aligned rule (Frequency) or an absolute
// timestamp (Point). Raw user input is resolved into a variant once, by
// Parse or ParseStep, and the rest of the engine only switches on the
// variant.
package offset

import (
	"fmt"
	"math"
	"strconv"
	"time"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

// Kind identifies an Offset variant.
type Kind uint8

const (
	KindPosition Kind = iota
	KindDuration
	KindFrequency
	KindPoint
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindDuration:
		return "duration"
	case KindFrequency:
		return "frequency"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Offset is a resolved, immutable offset value.
type Offset interface {
	Kind() Kind
	String() string
	isOffset()
}

// Distance is an Offset that can be added to a time index value.
type Distance interface {
	Offset
	// AddTo returns the index value reached from ns, in nanoseconds.
	AddTo(ns int64) int64
}

// Position counts rows.
type Position int64

func (Position) Kind() Kind { return KindPosition }
func (Position) isOffset()  {}

func (p Position) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// Duration is a fixed time span.
type Duration time.Duration

func (Duration) Kind() Kind { return KindDuration }
func (Duration) isOffset()  {}

// AddTo adds the span to a nanosecond index value, saturating at the
// int64 limits.
func (d Duration) AddTo(ns int64) int64 {
	switch {
	case d > 0 && ns > math.MaxInt64-int64(d):
		return math.MaxInt64
	case d < 0 && ns < math.MinInt64-int64(d):
		return math.MinInt64
	}
	return ns + int64(d)
}

// String renders the duration in the largest unit that divides it exactly,
// in a form Parse accepts.
func (d Duration) String() string {
	v := int64(d)
	if v == 0 {
		return "0s"
	}
	for _, u := range durationFormatUnits {
		if v%int64(u.size) == 0 {
			return fmt.Sprintf("%d%s", v/int64(u.size), u.alias)
		}
	}
	return fmt.Sprintf("%dns", v)
}

var durationFormatUnits = []struct {
	alias string
	size  time.Duration
}{
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"min", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
	{"us", time.Microsecond},
	{"ns", time.Nanosecond},
}

// Frequency is a calendar-aligned rule applied N times.
// It only becomes a concrete point once anchored to an index value.
type Frequency struct {
	N    int
	Rule Rule
}

func (Frequency) Kind() Kind { return KindFrequency }
func (Frequency) isOffset()  {}

// String renders the frequency as an alias string such as "2MS".
func (f Frequency) String() string {
	if f.N == 1 {
		return f.Rule.Alias()
	}
	return strconv.Itoa(f.N) + f.Rule.Alias()
}

// Bounds of a nanosecond index value.
var (
	maxTime = time.Unix(0, math.MaxInt64).UTC()
	minTime = time.Unix(0, math.MinInt64).UTC()
)

// AddTo anchors the rule at ns and returns the resulting point, saturating
// once it leaves the range of a nanosecond index value.
func (f Frequency) AddTo(ns int64) int64 {
	t := time.Unix(0, ns).UTC()
	if f.N == 0 {
		t = f.Rule.Apply(t, 0)
	}
	for i := 0; i < f.N; i++ {
		if t = f.Rule.Apply(t, 1); t.After(maxTime) {
			return math.MaxInt64
		}
	}
	for i := 0; i > f.N; i-- {
		if t = f.Rule.Apply(t, -1); t.Before(minTime) {
			return math.MinInt64
		}
	}
	if t.After(maxTime) {
		return math.MaxInt64
	}
	return t.UnixNano()
}

// Point is an absolute timestamp. It is only valid as a start or stop boundary.
type Point time.Time

func (Point) Kind() Kind { return KindPoint }
func (Point) isOffset()  {}

// Time returns the point as a time.Time.
func (p Point) Time() time.Time {
	return time.Time(p)
}

// UnixNano returns the point as a nanosecond index value.
func (p Point) UnixNano() int64 {
	return time.Time(p).UnixNano()
}

func (p Point) String() string {
	return time.Time(p).UTC().Format(time.RFC3339Nano)
}

// Magnitude converts an offset to the number used for positivity checks:
// rows for Position, nanoseconds for Duration, the multiplier for Frequency.
// A Point has no magnitude.
func Magnitude(o Offset) (int64, error) {
	switch v := o.(type) {
	case Position:
		return int64(v), nil
	case Duration:
		return int64(v), nil
	case Frequency:
		return int64(v.N), nil
	case Point:
		return 0, lferrors.New(lferrors.CodeStepIsPoint, "offset must be position or frequency based").
			WithContext("value", v.String())
	default:
		return 0, lferrors.InvalidOffset("", o)
	}
}

// Epoch converts a Point to seconds since the Unix epoch.
func Epoch(o Offset) (float64, error) {
	p, ok := o.(Point)
	if !ok {
		return 0, lferrors.New(lferrors.CodeInvalidOffset, "offset must be a timestamp").
			WithContext("value", o.String())
	}
	return float64(p.UnixNano()) / float64(time.Second), nil
}

// IsTimeBased reports whether the offset needs a time index to be applied.
func IsTimeBased(o Offset) bool {
	return o != nil && o.Kind() != KindPosition
}

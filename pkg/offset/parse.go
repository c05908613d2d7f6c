package offset

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	lferrors "github.com/logflow/labelflow/pkg/errors"
)

var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	aliasPattern   = regexp.MustCompile(`^([+-]?\d+)?\s*([A-Za-zµ]+(?:-[A-Za-z]+)?)$`)
	phrasePattern  = regexp.MustCompile(`until start of next (?P<unit>[a-z]+)`)
)

// Calendar aliases are case sensitive.
var frequencyAliases = map[string]Rule{
	"MS":    MonthBegin,
	"M":     MonthEnd,
	"ME":    MonthEnd,
	"QS":    QuarterBegin,
	"Q":     QuarterEnd,
	"QE":    QuarterEnd,
	"YS":    YearBegin,
	"AS":    YearBegin,
	"Y":     YearEnd,
	"A":     YearEnd,
	"YE":    YearEnd,
	"W":     Week,
	"W-SUN": Week,
}

var durationAliases = map[string]time.Duration{
	"ns": time.Nanosecond,
	"N":  time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"U":  time.Microsecond,
	"ms": time.Millisecond,
	"L":  time.Millisecond,
	"s":  time.Second,
	"S":  time.Second,
	"T":  time.Minute,
	"m":  time.Minute,
	"h":  time.Hour,
	"H":  time.Hour,
	"d":  24 * time.Hour,
	"D":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

// Long unit names, matched case-insensitively.
var durationWords = map[string]time.Duration{
	"nanosecond":  time.Nanosecond,
	"nanoseconds": time.Nanosecond,
	"microsecond": time.Microsecond,
	"micros":      time.Microsecond,
	"millisecond": time.Millisecond,
	"milli":       time.Millisecond,
	"millis":      time.Millisecond,
	"sec":         time.Second,
	"second":      time.Second,
	"seconds":     time.Second,
	"min":         time.Minute,
	"mins":        time.Minute,
	"minute":      time.Minute,
	"minutes":     time.Minute,
	"hr":          time.Hour,
	"hour":        time.Hour,
	"hours":       time.Hour,
	"day":         24 * time.Hour,
	"days":        24 * time.Hour,
	"week":        7 * 24 * time.Hour,
	"weeks":       7 * 24 * time.Hour,
}

// Parse resolves a raw start/stop value into an Offset.
//
// Integers and all-digit strings are row counts. Other strings are read as a
// duration or frequency alias ("2h", "30min", "MS"), a named calendar phrase
// ("until start of next month") or an absolute timestamp. A nil value or an
// empty string yields a nil Offset, meaning "use the default".
func Parse(raw any) (Offset, error) {
	return parse(raw, true)
}

// ParseStep resolves a raw size/step value. Absolute timestamps are not
// allowed because a step describes a distance, not a location.
func ParseStep(raw any) (Offset, error) {
	o, err := parse(raw, false)
	if err != nil {
		return nil, err
	}
	if o != nil && o.Kind() == KindPoint {
		return nil, lferrors.New(lferrors.CodeStepIsPoint, "step offset cannot be a timestamp").
			WithContext("value", o.String())
	}
	return o, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(raw any) Offset {
	o, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return o
}

func parse(raw any, allowPoint bool) (Offset, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case Offset:
		return v, nil
	case int:
		return Position(v), nil
	case int8:
		return Position(v), nil
	case int16:
		return Position(v), nil
	case int32:
		return Position(v), nil
	case int64:
		return Position(v), nil
	case uint:
		return Position(v), nil
	case uint8:
		return Position(v), nil
	case uint16:
		return Position(v), nil
	case uint32:
		return Position(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, lferrors.InvalidOffset("", v)
		}
		return Position(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, lferrors.InvalidOffset("", v)
		}
		return Position(int64(v)), nil
	case time.Duration:
		return Duration(v), nil
	case time.Time:
		return Point(v), nil
	case string:
		return parseString(v, allowPoint)
	case fmt.Stringer:
		return parseString(v.String(), allowPoint)
	default:
		return nil, lferrors.InvalidOffset("", raw)
	}
}

func parseString(s string, allowPoint bool) (Offset, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if integerPattern.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, lferrors.InvalidOffset("", s)
		}
		return Position(n), nil
	}

	// The distance grammar and timestamps do not overlap: anything shaped
	// like "<number><unit>" is a distance, never a date.
	if o := parseDistance(s); o != nil {
		return o, nil
	}

	if o := parsePhrase(s); o != nil {
		return o, nil
	}

	if allowPoint {
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return Point(t), nil
		}
	}

	return nil, lferrors.InvalidOffset("", s)
}

func parseDistance(s string) Offset {
	if m := aliasPattern.FindStringSubmatch(s); m != nil {
		if o, ok := parseAlias(m[1], m[2]); ok {
			return o
		}
	}
	if o, ok := parseSpelled(s); ok {
		return o
	}
	if d, err := time.ParseDuration(s); err == nil {
		return Duration(d)
	}
	return nil
}

func parsePhrase(s string) Offset {
	m := phrasePattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return nil
	}
	switch m[phrasePattern.SubexpIndex("unit")] {
	case "month":
		return Frequency{N: 1, Rule: MonthBegin}
	case "year":
		return Frequency{N: 1, Rule: YearBegin}
	}
	return nil
}

func parseAlias(num, unit string) (Offset, bool) {
	n := int64(1)
	if num != "" {
		v, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return nil, false
		}
		n = v
	}

	if rule, ok := frequencyAliases[unit]; ok {
		return Frequency{N: int(n), Rule: rule}, true
	}
	size, ok := durationAliases[unit]
	if !ok {
		size, ok = durationWords[strings.ToLower(unit)]
	}
	if !ok {
		return nil, false
	}
	d, ok := scale(n, size)
	if !ok {
		return nil, false
	}
	return Duration(d), true
}

// scale multiplies a count by a unit, failing when the span does not fit
// in an int64 of nanoseconds.
func scale(n int64, size time.Duration) (time.Duration, bool) {
	if n > math.MaxInt64/int64(size) || n < math.MinInt64/int64(size) {
		return 0, false
	}
	return time.Duration(n) * size, true
}

// parseSpelled handles space separated forms such as "1 days" or "2 hours 30 minutes".
func parseSpelled(s string) (Offset, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) < 2 || len(fields)%2 != 0 {
		return nil, false
	}

	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, false
		}
		size, ok := durationWords[fields[i+1]]
		if !ok {
			size, ok = durationAliases[fields[i+1]]
		}
		if !ok {
			return nil, false
		}
		d, ok := scale(n, size)
		if !ok {
			return nil, false
		}
		if (d > 0 && total > math.MaxInt64-d) || (d < 0 && total < math.MinInt64-d) {
			return nil, false
		}
		total += d
	}
	return Duration(total), true
}

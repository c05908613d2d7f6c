package offset

import "time"

// Rule is a calendar anchor used by Frequency offsets.
type Rule uint8

const (
	MonthBegin Rule = iota
	MonthEnd
	QuarterBegin
	QuarterEnd
	YearBegin
	YearEnd
	// Week is anchored on Sundays.
	Week
)

// Alias returns the rule's alias string.
func (r Rule) Alias() string {
	switch r {
	case MonthBegin:
		return "MS"
	case MonthEnd:
		return "ME"
	case QuarterBegin:
		return "QS"
	case QuarterEnd:
		return "QE"
	case YearBegin:
		return "YS"
	case YearEnd:
		return "YE"
	case Week:
		return "W"
	default:
		return "?"
	}
}

// Apply moves t across n rule boundaries, forward for n > 0 and backward for
// n < 0. With n == 0, t is rolled forward onto the nearest boundary unless it
// is already on one. The time of day is preserved.
func (r Rule) Apply(t time.Time, n int) time.Time {
	switch {
	case n > 0:
		for i := 0; i < n; i++ {
			t = r.next(t)
		}
	case n < 0:
		for i := 0; i < -n; i++ {
			t = r.prev(t)
		}
	default:
		if !r.onOffset(t) {
			t = r.next(t)
		}
	}
	return t
}

func (r Rule) onOffset(t time.Time) bool {
	y, m, d := t.Date()
	switch r {
	case MonthBegin:
		return d == 1
	case MonthEnd:
		return d == lastDay(y, m)
	case QuarterBegin:
		return d == 1 && (m-1)%3 == 0
	case QuarterEnd:
		return d == lastDay(y, m) && m%3 == 0
	case YearBegin:
		return d == 1 && m == time.January
	case YearEnd:
		return d == 31 && m == time.December
	case Week:
		return t.Weekday() == time.Sunday
	}
	return false
}

// next returns the first boundary strictly after t.
func (r Rule) next(t time.Time) time.Time {
	y, m, d := t.Date()
	switch r {
	case MonthBegin:
		return withDate(t, y, m+1, 1)
	case MonthEnd:
		if d < lastDay(y, m) {
			return withDate(t, y, m, lastDay(y, m))
		}
		ny, nm := normMonth(y, m+1)
		return withDate(t, ny, nm, lastDay(ny, nm))
	case QuarterBegin:
		return withDate(t, y, quarterStart(m)+3, 1)
	case QuarterEnd:
		qe := quarterStart(m) + 2
		if m < qe || d < lastDay(y, m) {
			return withDate(t, y, qe, lastDay(y, qe))
		}
		ny, nm := normMonth(y, qe+3)
		return withDate(t, ny, nm, lastDay(ny, nm))
	case YearBegin:
		return withDate(t, y+1, time.January, 1)
	case YearEnd:
		if m < time.December || d < 31 {
			return withDate(t, y, time.December, 31)
		}
		return withDate(t, y+1, time.December, 31)
	case Week:
		days := (7 - int(t.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return t.AddDate(0, 0, days)
	}
	return t
}

// prev returns the last boundary strictly before t.
func (r Rule) prev(t time.Time) time.Time {
	y, m, d := t.Date()
	switch r {
	case MonthBegin:
		if d > 1 {
			return withDate(t, y, m, 1)
		}
		return withDate(t, y, m-1, 1)
	case MonthEnd:
		py, pm := normMonth(y, m-1)
		return withDate(t, py, pm, lastDay(py, pm))
	case QuarterBegin:
		qs := quarterStart(m)
		if m > qs || d > 1 {
			return withDate(t, y, qs, 1)
		}
		return withDate(t, y, qs-3, 1)
	case QuarterEnd:
		py, pm := normMonth(y, quarterStart(m)-1)
		return withDate(t, py, pm, lastDay(py, pm))
	case YearBegin:
		if m > time.January || d > 1 {
			return withDate(t, y, time.January, 1)
		}
		return withDate(t, y-1, time.January, 1)
	case YearEnd:
		return withDate(t, y-1, time.December, 31)
	case Week:
		days := int(t.Weekday())
		if days == 0 {
			days = 7
		}
		return t.AddDate(0, 0, -days)
	}
	return t
}

func quarterStart(m time.Month) time.Month {
	return ((m-1)/3)*3 + 1
}

func normMonth(y int, m time.Month) (int, time.Month) {
	t := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}

func lastDay(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func withDate(t time.Time, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

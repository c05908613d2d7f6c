package window

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/offset"
)

var day = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

func clock(t *testing.T, hhmm string) time.Time {
	t.Helper()
	c, err := time.Parse("15:04", hhmm)
	require.NoError(t, err)
	return day.Add(time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute)
}

// timeLog builds a log with one event per clock time, each with amount 1.
func timeLog(t *testing.T, stamps ...string) *model.EventLog {
	t.Helper()
	log := &model.EventLog{Entity: "0", IndexKind: model.IndexTime}
	for _, s := range stamps {
		log.Events = append(log.Events, model.Event{
			Index:  clock(t, s).UnixNano(),
			Fields: map[string]any{"amount": 1.0},
		})
	}
	return log
}

func positionLog(amounts ...float64) *model.EventLog {
	log := &model.EventLog{Entity: "0", IndexKind: model.IndexPosition}
	for i, a := range amounts {
		log.Events = append(log.Events, model.Event{
			Index:  int64(i),
			Fields: map[string]any{"amount": a},
		})
	}
	return log
}

func collect(t *testing.T, log *model.EventLog, opts Options) []*Window {
	t.Helper()
	g, err := New(log, opts)
	require.NoError(t, err)
	windows, err := Collect(g)
	require.NoError(t, err)
	return windows
}

func sum(w *Window) float64 {
	total := 0.0
	for _, v := range w.Values("amount") {
		total += v.(float64)
	}
	return total
}

func TestGenerator_MinimumDataExcludesEarlyEvents(t *testing.T) {
	log := timeLog(t, "08:00", "08:30")

	windows := collect(t, log, Options{
		Size:      "2h",
		Start:     "30min",
		Step:      "2h",
		DropEmpty: true,
	})

	require.Len(t, windows, 1)
	w := windows[0]
	assert.Equal(t, clock(t, "08:30"), w.Context.Start.Time())
	assert.Equal(t, clock(t, "10:30"), w.Context.Stop.Time())
	assert.Equal(t, 1, w.Context.SliceNumber)
	assert.Equal(t, 1.0, sum(w))
}

func TestGenerator_RowCountSlidingWindows(t *testing.T) {
	log := positionLog(127.64, 109.48, 95.06, 78.92, 31.54)

	windows := collect(t, log, Options{Size: 2, Step: 1, DropEmpty: true})

	require.Len(t, windows, 5)
	assert.InDelta(t, 237.12, sum(windows[0]), 1e-9)
	assert.Equal(t, int64(0), windows[0].Context.Start.Value)
	assert.Equal(t, int64(2), windows[0].Context.Stop.Value)
	assert.InDelta(t, 204.54, sum(windows[1]), 1e-9)
	assert.InDelta(t, 173.98, sum(windows[2]), 1e-9)
	assert.InDelta(t, 110.46, sum(windows[3]), 1e-9)
	assert.InDelta(t, 31.54, sum(windows[4]), 1e-9)

	for i, w := range windows {
		assert.Equal(t, int64(i), w.Context.Start.Value)
	}
	assert.False(t, windows[4].Context.HasNextStart)
}

func TestGenerator_NoBoundaryDuplication(t *testing.T) {
	log := timeLog(t, "08:00", "08:30", "09:00", "09:30", "10:00", "10:15", "11:00")

	windows := collect(t, log, Options{Size: "1h", DropEmpty: true})

	seen := make(map[int64]int)
	for i, w := range windows {
		for _, e := range w.Events {
			prev, dup := seen[e.Index]
			assert.False(t, dup, "event %s in windows %d and %d", time.Unix(0, e.Index).UTC(), prev, i)
			seen[e.Index] = i
			assert.GreaterOrEqual(t, e.Index, w.Context.Start.Value)
			assert.Less(t, e.Index, w.Context.Stop.Value)
		}
	}
	assert.Len(t, seen, len(log.Events))
	require.Len(t, windows, 4)
	assert.Equal(t, 2, windows[0].Len())
	assert.Equal(t, 2, windows[1].Len())
	assert.Equal(t, 2, windows[2].Len())
	assert.Equal(t, 1, windows[3].Len())
}

func TestGenerator_PositionalClamping(t *testing.T) {
	log := positionLog(1, 2, 3, 4, 5)

	windows := collect(t, log, Options{Size: 3, DropEmpty: true})

	require.Len(t, windows, 2)
	assert.Equal(t, int64(3), windows[0].Context.Stop.Value)
	assert.Equal(t, 2, windows[1].Len())
	assert.Equal(t, int64(4), windows[1].Context.Stop.Value, "clamped window stops at the last index")

	windows = collect(t, log, Options{Size: 10, DropEmpty: true})
	require.Len(t, windows, 1)
	assert.Equal(t, 5, windows[0].Len())
	assert.Equal(t, int64(4), windows[0].Context.Stop.Value)
}

func TestGenerator_SliceNumbersSkipDroppedWindows(t *testing.T) {
	log := timeLog(t, "00:00", "05:00")

	windows := collect(t, log, Options{Size: "1h", DropEmpty: true})
	require.Len(t, windows, 2)
	assert.Equal(t, 1, windows[0].Context.SliceNumber)
	assert.Equal(t, 2, windows[1].Context.SliceNumber)
	assert.Equal(t, clock(t, "05:00"), windows[1].Context.Start.Time())

	windows = collect(t, log, Options{Size: "1h", DropEmpty: false})
	require.Len(t, windows, 6)
	for i, w := range windows {
		assert.Equal(t, i+1, w.Context.SliceNumber)
	}
	assert.True(t, windows[2].Empty())
	assert.Equal(t, clock(t, "03:00"), windows[2].Context.NextStart.Time())
}

func TestGenerator_OverlapAndGaps(t *testing.T) {
	log := positionLog(1, 2, 3, 4, 5, 6)

	overlapping := collect(t, log, Options{Size: 3, Step: 2, DropEmpty: true})
	require.Len(t, overlapping, 3)
	assert.Equal(t, 6.0, sum(overlapping[0]))
	assert.Equal(t, 12.0, sum(overlapping[1]))
	assert.Equal(t, 11.0, sum(overlapping[2]))

	gapped := collect(t, log, Options{Size: 1, Step: 3, DropEmpty: true})
	require.Len(t, gapped, 2)
	assert.Equal(t, 1.0, sum(gapped[0]))
	assert.Equal(t, 4.0, sum(gapped[1]))
}

func TestGenerator_Defaults(t *testing.T) {
	log := timeLog(t, "08:00", "09:00", "10:00")

	windows := collect(t, log, Options{DropEmpty: true})
	require.Len(t, windows, 1)
	assert.Equal(t, 3, windows[0].Len())
	assert.Equal(t, clock(t, "08:00"), windows[0].Context.Start.Time())
}

func TestGenerator_StartByRows(t *testing.T) {
	log := positionLog(1, 2, 3, 4)

	windows := collect(t, log, Options{Size: 1, Start: 2, DropEmpty: true})
	require.Len(t, windows, 2)
	assert.Equal(t, 3.0, sum(windows[0]))
	assert.Equal(t, int64(2), windows[0].Context.Start.Value)
}

func TestGenerator_StartAtPointWithRowStep(t *testing.T) {
	log := timeLog(t, "08:00", "09:10", "09:40", "11:00")

	windows := collect(t, log, Options{Size: "1h", Start: day.Add(9 * time.Hour), Step: 1, DropEmpty: true})

	require.Len(t, windows, 3)
	// The cursor re-anchors to the first event at or after the point.
	assert.Equal(t, clock(t, "09:10"), windows[0].Context.Start.Time())
	assert.Equal(t, 2, windows[0].Len())
	assert.Equal(t, clock(t, "09:40"), windows[1].Context.Start.Time())
	assert.Equal(t, clock(t, "11:00"), windows[2].Context.Start.Time())
}

func TestGenerator_StopBounds(t *testing.T) {
	log := positionLog(1, 2, 3, 4, 5, 6)

	windows := collect(t, log, Options{Size: 1, Stop: 2, DropEmpty: true})
	require.Len(t, windows, 3, "windows may start at or before the stop index")

	tlog := timeLog(t, "08:00", "09:00", "10:00", "11:00")
	windows = collect(t, tlog, Options{Size: "1h", Stop: "2h", DropEmpty: true})
	require.Len(t, windows, 3)
	assert.Equal(t, clock(t, "10:00"), windows[2].Context.Start.Time())

	windows = collect(t, tlog, Options{Size: "1h", Stop: "2014-01-01 09:00", DropEmpty: true})
	require.Len(t, windows, 2)
}

func TestGenerator_CalendarSize(t *testing.T) {
	log := &model.EventLog{Entity: "a", IndexKind: model.IndexTime}
	for _, d := range []time.Time{
		time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
	} {
		log.Events = append(log.Events, model.Event{Index: d.UnixNano()})
	}

	windows := collect(t, log, Options{Size: "until start of next month", DropEmpty: true})

	require.Len(t, windows, 3)
	assert.Equal(t, 2, windows[0].Len())
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), windows[0].Context.Stop.Time())
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), windows[1].Context.Start.Time())
	assert.Equal(t, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), windows[2].Context.Start.Time())
}

func TestGenerator_Validation(t *testing.T) {
	unsorted := timeLog(t, "09:00", "08:00")
	_, err := New(unsorted, Options{})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeUnsortedIndex), "got %v", err)

	nulls := timeLog(t, "08:00", "09:00")
	nulls.Events[1].IndexNull = true
	_, err = New(nulls, Options{})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeNullIndex), "got %v", err)

	_, err = New(positionLog(1, 2), Options{Size: "1h"})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration), "got %v", err)

	_, err = New(timeLog(t, "08:00"), Options{Step: day})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeStepIsPoint), "got %v", err)

	_, err = New(timeLog(t, "08:00"), Options{Size: "-1h"})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeNonPositiveOffset), "got %v", err)

	_, err = New(timeLog(t, "08:00"), Options{Size: "bogus"})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidOffset), "got %v", err)

	_, err = New(positionLog(1, 2), Options{Size: 0, Step: 1, Positivity: offset.NonNegative})
	assert.NoError(t, err)

	_, err = New(positionLog(1, 2), Options{Size: 1, Step: 0, Positivity: offset.NonNegative})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeNonPositiveOffset), "got %v", err)
}

func TestGenerator_EmptyLog(t *testing.T) {
	windows := collect(t, &model.EventLog{IndexKind: model.IndexTime}, Options{Size: "1h"})
	assert.Empty(t, windows)
}

func TestGenerator_StartBeyondLog(t *testing.T) {
	log := positionLog(1, 2)

	windows := collect(t, log, Options{Size: 1, Start: 5, DropEmpty: true})
	assert.Empty(t, windows)
}

func TestGenerator_OversizedDuration(t *testing.T) {
	log := timeLog(t, "08:00", "08:30")

	for _, keepEmpty := range []bool{false, true} {
		windows := collect(t, log, Options{Size: "100000d", DropEmpty: !keepEmpty})
		require.Len(t, windows, 1, "keep empty %v", keepEmpty)

		w := windows[0]
		assert.Equal(t, model.TimeIndex(clock(t, "08:00")), w.Context.Start)
		assert.Equal(t, int64(math.MaxInt64), w.Context.Stop.Value)
		assert.Equal(t, 2, w.Len())
	}

	// A saturated stop keeps the cursor in range; the saturated step still ends iteration.
	windows := collect(t, log, Options{Size: "100000d", Stop: "100000d"})
	require.Len(t, windows, 2)
	assert.Equal(t, 0, windows[1].Len())
	assert.False(t, windows[1].Context.HasNextStart)

	_, err := New(log, Options{Size: "300000d"})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidOffset))
}

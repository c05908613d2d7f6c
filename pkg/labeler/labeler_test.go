package labeler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/window"
)

var day = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func total(_ context.Context, w *window.Window) (any, error) {
	sum := 0.0
	for _, v := range w.Values("amount") {
		sum += v.(float64)
	}
	return sum, nil
}

func positionTable(amounts map[string][]float64) *model.Table {
	t := model.NewTable("customer_id", "time", model.IndexPosition, "amount")
	for _, entity := range []string{"0", "1", "2"} {
		for i, a := range amounts[entity] {
			t.Append(entity, int64(i), map[string]any{"amount": a})
		}
	}
	return t
}

func maker(size any) *Maker {
	return &Maker{
		EntityColumn: "customer_id",
		TimeIndex:    "time",
		Functions:    []LabelingFunction{{Name: "total", Fn: total}},
		WindowSize:   size,
	}
}

func TestSearch_MinimumDataExcludesEarlyEvents(t *testing.T) {
	table := model.NewTable("customer_id", "time", model.IndexTime, "amount")
	table.Append("0", at(8, 0).UnixNano(), map[string]any{"amount": 1.0})
	table.Append("0", at(8, 30).UnixNano(), map[string]any{"amount": 1.0})

	lt, err := maker("2h").Search(context.Background(), table, SearchOptions{
		NumExamplesPerInstance: 2,
		MinimumData:            "30min",
		Gap:                    "2h",
	})
	require.NoError(t, err)

	require.Equal(t, 1, lt.Len())
	r := lt.Records[0]
	assert.Equal(t, "0", r.Entity)
	assert.Equal(t, at(8, 30), r.Time.Time())
	assert.Equal(t, 1.0, r.Labels["total"])
	assert.Equal(t, "2", lt.Settings.SearchSettings.NumExamplesPerInstance)
	assert.Equal(t, "None", lt.Settings.SearchSettings.MaximumData)
}

func TestSearch_RowCountWindows(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {127.64, 109.48, 95.06, 78.92, 31.54}})

	lt, err := maker(2).Search(context.Background(), table, SearchOptions{Gap: 1})
	require.NoError(t, err)

	require.Equal(t, 5, lt.Len())
	want := []float64{237.12, 204.54, 173.98, 110.46, 31.54}
	for i, r := range lt.Records {
		assert.Equal(t, int64(i), r.Time.Value, "cutoff is the first row of the window")
		assert.InDelta(t, want[i], r.Labels["total"], 1e-9)
	}
	assert.Equal(t, "inf", lt.Settings.SearchSettings.NumExamplesPerInstance)
}

func TestSearch_RequiresGapForManyExamples(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}})

	_, err := maker(nil).Search(context.Background(), table, SearchOptions{NumExamplesPerInstance: 2})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration), "got %v", err)

	// Empty strings from the command line are unset offsets.
	_, err = maker("").Search(context.Background(), table, SearchOptions{Gap: "", NumExamplesPerInstance: 2})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration), "got %v", err)
	_, err = maker("").Slice(context.Background(), table, SearchOptions{Gap: "", NumExamplesPerInstance: 2})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration), "got %v", err)

	// One example, or all of them, needs no gap.
	for _, n := range []any{1, -1, "inf"} {
		lt, err := maker(nil).Search(context.Background(), table, SearchOptions{NumExamplesPerInstance: n})
		require.NoError(t, err)
		require.Equal(t, 1, lt.Len())
		assert.Equal(t, 3.0, lt.Records[0].Labels["total"])
	}
}

func TestSearch_PerLabelTargetsStopEarly(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {2, 3, 0, 5, 0}})

	var calls atomic.Int32
	m := maker(1)
	m.Functions = []LabelingFunction{{Name: "big", Fn: func(_ context.Context, w *window.Window) (any, error) {
		calls.Add(1)
		return w.Values("amount")[0].(float64) > 1, nil
	}}}

	lt, err := m.Search(context.Background(), table, SearchOptions{
		NumExamplesPerInstance: map[bool]int{true: 1, false: 1},
	})
	require.NoError(t, err)

	require.Equal(t, 2, lt.Len())
	assert.Equal(t, true, lt.Records[0].Labels["big"])
	assert.Equal(t, false, lt.Records[1].Labels["big"])
	assert.Equal(t, int32(3), calls.Load(), "no window is evaluated once both targets are met")
}

func TestSearch_FunctionErrorAborts(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}, "1": {3}})
	boom := errors.New("boom")

	m := maker(1)
	m.Functions = append(m.Functions, LabelingFunction{Name: "fails", Fn: func(context.Context, *window.Window) (any, error) {
		return nil, boom
	}})

	lt, err := m.Search(context.Background(), table, SearchOptions{})
	assert.Nil(t, lt)
	assert.ErrorIs(t, err, boom)
	assert.Same(t, boom, err)
}

func TestSearch_InvalidFunctions(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1}})

	cases := map[string][]LabelingFunction{
		"none":      nil,
		"no name":   {{Fn: total}},
		"nil func":  {{Name: "total"}},
		"duplicate": {{Name: "total", Fn: total}, {Name: "total", Fn: total}},
		"entity":    {{Name: "customer_id", Fn: total}},
	}
	for name, fns := range cases {
		t.Run(name, func(t *testing.T) {
			m := maker(1)
			m.Functions = fns
			_, err := m.Search(context.Background(), table, SearchOptions{})
			assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFunction), "got %v", err)
		})
	}
}

func TestSearch_InvalidOffsets(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}})

	_, err := maker("2h").Search(context.Background(), table, SearchOptions{})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration), "duration on a position index: %v", err)

	_, err = maker(0).Search(context.Background(), table, SearchOptions{})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeNonPositiveOffset), "zero window size: %v", err)

	_, err = maker(1).Search(context.Background(), table, SearchOptions{MinimumData: -1})
	assert.True(t, lferrors.IsConfiguration(err), "negative minimum data: %v", err)

	_, err = maker(1).Search(context.Background(), table, SearchOptions{NumExamplesPerInstance: 0})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidTarget), "got %v", err)
}

func TestSearch_MinimumDataByEntity(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2, 3}, "1": {4, 5, 6}, "2": {7}})

	lt, err := maker(1).Search(context.Background(), table, SearchOptions{
		MinimumDataByEntity: []EntityOffset{
			{Entity: "1", MinimumData: 2},
			{Entity: "0", MinimumData: 1},
		},
	})
	require.NoError(t, err)

	var got []string
	for _, r := range lt.Records {
		got = append(got, r.Entity)
	}
	assert.Equal(t, []string{"0", "0", "1"}, got, "entity 2 has no cutoff and is skipped")
	assert.Equal(t, 2.0, lt.Records[0].Labels["total"])
	assert.Equal(t, 6.0, lt.Records[2].Labels["total"])
	assert.Equal(t, "per entity (2 entities)", lt.Settings.SearchSettings.MinimumData)
	assert.Equal(t, map[string]string{"0": "1", "1": "2"}, lt.Settings.SearchSettings.MinimumDataByEntity)

	_, err = maker(1).Search(context.Background(), table, SearchOptions{
		MinimumDataByEntity: []EntityOffset{{Entity: "0", MinimumData: 1}, {Entity: "0", MinimumData: 2}},
	})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeAmbiguousCutoff), "got %v", err)
}

func TestSearch_NoMatches(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}})

	m := maker(1)
	m.Functions = []LabelingFunction{{Name: "never", Fn: func(context.Context, *window.Window) (any, error) {
		return nil, nil
	}}}
	lt, err := m.Search(context.Background(), table, SearchOptions{})
	require.NoError(t, err)
	assert.True(t, lt.Empty())
	assert.Equal(t, []string{"never"}, lt.Settings.TargetColumns)
}

type recordingProgress struct {
	total    int64
	adds     []int64
	finished int
}

func (p *recordingProgress) Start(total int64) { p.total = total }
func (p *recordingProgress) Add(n int64)       { p.adds = append(p.adds, n) }
func (p *recordingProgress) Finish()           { p.finished++ }

func (p *recordingProgress) sum() int64 {
	var n int64
	for _, a := range p.adds {
		n += a
	}
	return n
}

func TestSearch_ProgressFiniteTarget(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1}, "1": {1, 2, 3}})
	p := &recordingProgress{}

	_, err := maker(1).Search(context.Background(), table, SearchOptions{NumExamplesPerInstance: 2, Progress: p})
	require.NoError(t, err)

	assert.Equal(t, int64(4), p.total)
	// One unit per example, a catch-up for entity 0's missing example,
	// nothing left for entity 1 or at the end.
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, p.adds)
	assert.Equal(t, 1, p.finished)
}

func TestSearch_ProgressSkippedEntities(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}, "1": {1, 2, 3}})
	p := &recordingProgress{}

	_, err := maker(1).Search(context.Background(), table, SearchOptions{
		NumExamplesPerInstance: 2,
		MinimumDataByEntity:    []EntityOffset{{Entity: "1", MinimumData: 0}},
		Progress:               p,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), p.total)
	// Entity 0 has no cutoff, so the catch-up after entity 1 also covers
	// entity 0's share.
	assert.Equal(t, []int64{1, 1, 2, 0}, p.adds)
	assert.Equal(t, p.total, p.sum())
}

func TestSearch_ProgressUnboundedTarget(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1}, "1": {1, 2, 3}})
	p := &recordingProgress{}

	_, err := maker(1).Search(context.Background(), table, SearchOptions{Progress: p})
	require.NoError(t, err)

	assert.Equal(t, int64(2), p.total)
	assert.Equal(t, []int64{1, 1, 0}, p.adds, "one unit per entity")
}

func TestSearch_ParallelMatchesSequential(t *testing.T) {
	table := positionTable(map[string][]float64{
		"0": {1, 2, 3, 4},
		"1": {5, 6},
		"2": {7, 8, 9},
	})
	opts := SearchOptions{NumExamplesPerInstance: 2}

	sequential, err := maker(1).Search(context.Background(), table, opts)
	require.NoError(t, err)

	p := &recordingProgress{}
	opts.Workers = 3
	opts.Progress = p
	parallel, err := maker(1).Search(context.Background(), table, opts)
	require.NoError(t, err)

	assert.Equal(t, sequential.Records, parallel.Records)
	assert.Equal(t, p.total, p.sum())

	var units int
	for _, n := range p.adds {
		if n == 1 {
			units++
		}
	}
	assert.GreaterOrEqual(t, units, parallel.Len(), "one unit per accepted example")
}

func TestSearch_Cancelled(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := maker(1).Search(ctx, table, SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_WindowColumn(t *testing.T) {
	table := model.NewTable("customer_id", "time", model.IndexPosition, "amount", "session")
	for i, s := range []string{"a", "a", "b", "b", "b"} {
		table.Append("0", int64(i), map[string]any{"amount": float64(i), "session": s})
	}

	lt, err := maker("session").Search(context.Background(), table, SearchOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, lt.Len())
	assert.Equal(t, 1.0, lt.Records[0].Labels["total"])
	assert.Equal(t, int64(2), lt.Records[1].Time.Value)
	assert.Equal(t, 9.0, lt.Records[1].Labels["total"])
	assert.Equal(t, "session", lt.Settings.SearchSettings.WindowSize)

	m := maker(nil)
	m.WindowColumn = "visit"
	_, err = m.Search(context.Background(), table, SearchOptions{})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeMissingColumn), "got %v", err)
}

func TestSlice(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1, 2, 3}, "1": {4}})

	it, err := maker(1).Slice(context.Background(), table, SearchOptions{NumExamplesPerInstance: 2})
	require.NoError(t, err)
	windows, err := window.Collect(it)
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, "0", windows[0].Entity)
	assert.Equal(t, 2, windows[1].Context.SliceNumber)
	assert.Equal(t, "1", windows[2].Entity)
	assert.Equal(t, 1, windows[2].Context.SliceNumber)

	it, err = maker(1).Slice(context.Background(), table, SearchOptions{})
	require.NoError(t, err)
	windows, err = window.Collect(it)
	require.NoError(t, err)
	assert.Len(t, windows, 4)
}

func TestSlice_RejectsPerLabelTargets(t *testing.T) {
	table := positionTable(map[string][]float64{"0": {1}})

	_, err := maker(1).Slice(context.Background(), table, SearchOptions{
		NumExamplesPerInstance: map[string]int{"a": 1},
	})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidTarget), "got %v", err)
}

func TestSearch_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	before := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	table := positionTable(map[string][]float64{"0": {1}, "1": {2, 3}})
	_, err := maker(1).Search(context.Background(), table, SearchOptions{})
	require.NoError(t, err)

	names := make(map[string]int)
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, map[string]int{"labelflow.search": 1, "labelflow.search.entity": 2}, names)
}

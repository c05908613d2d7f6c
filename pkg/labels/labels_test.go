package labels

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
)

func at(t *testing.T, s string) model.Index {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", s)
	require.NoError(t, err)
	return model.TimeIndex(ts)
}

// spent is a single continuous target over two customers.
func spent(t *testing.T) *LabelTimes {
	t.Helper()
	records := []Record{
		{Entity: "0", Time: at(t, "2014-01-01 00:45"), Labels: map[string]any{"total": 226.93}},
		{Entity: "0", Time: at(t, "2014-01-01 00:48"), Labels: map[string]any{"total": 47.95}},
		{Entity: "1", Time: at(t, "2014-01-01 00:01"), Labels: map[string]any{"total": 283.46}},
		{Entity: "1", Time: at(t, "2014-01-01 00:04"), Labels: map[string]any{"total": 31.54}},
	}
	return New("customer_id", model.IndexTime, []string{"total"}, records, SearchSettings{
		WindowSize:             "1h",
		NumExamplesPerInstance: "2",
	})
}

func TestNew_InfersTypes(t *testing.T) {
	records := []Record{
		{Entity: "a", Time: model.PositionIndex(0), Labels: map[string]any{"n": 3, "churn": true, "plan": "pro", "x": float32(1.5)}},
		{Entity: "a", Time: model.PositionIndex(1), Labels: map[string]any{"n": 4, "churn": false, "plan": nil, "x": 2}},
	}
	lt := New("id", model.IndexPosition, []string{"n", "churn", "plan", "x"}, records, SearchSettings{})

	assert.Equal(t, map[string]string{"n": Continuous, "churn": Discrete, "plan": Discrete, "x": Continuous}, lt.Settings.TargetTypes)
	assert.Equal(t, int64(3), lt.Records[0].Labels["n"])
	assert.Equal(t, 1.5, lt.Records[0].Labels["x"])
	assert.Equal(t, "float64", lt.Dtypes()["x"])
	assert.Equal(t, "int64", lt.Dtypes()["time"])
	assert.NotEmpty(t, lt.Settings.RunID)
}

func TestSelect(t *testing.T) {
	records := []Record{
		{Entity: "0", Labels: map[string]any{"A": true, "B": false}},
	}
	lt := New("entity", model.IndexPosition, []string{"A", "B"}, records, SearchSettings{})

	_, err := lt.Target()
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidLabelTime))

	b, err := lt.Select("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, b.Settings.TargetColumns)
	assert.Equal(t, map[string]any{"B": false}, b.Records[0].Labels)
	assert.Len(t, lt.Records[0].Labels, 2, "receiver is unchanged")

	_, err = b.Select("B")
	assert.Error(t, err)
	_, err = lt.Select("C")
	assert.Error(t, err)
}

func TestThreshold(t *testing.T) {
	lt := spent(t)
	out, err := lt.Threshold(100)
	require.NoError(t, err)

	assert.Equal(t, []any{true, false, true, false}, out.Values("total"))
	assert.True(t, out.IsDiscrete("total"))
	require.Len(t, out.Settings.Transforms, 1)
	assert.Equal(t, "threshold", out.Settings.Transforms[0].Name())
	assert.Empty(t, lt.Settings.Transforms)
}

func TestApplyLead(t *testing.T) {
	out, err := spent(t).ApplyLead("10min")
	require.NoError(t, err)

	want := []string{"2014-01-01 00:35:00", "2014-01-01 00:38:00", "2013-12-31 23:51:00", "2013-12-31 23:54:00"}
	for i, r := range out.Records {
		assert.Equal(t, want[i], r.Time.String())
	}
	assert.Equal(t, "apply_lead", out.Settings.Transforms[0].Name())
	assert.Equal(t, "10min", out.Settings.Transforms[0]["value"])

	_, err = spent(t).ApplyLead("MS")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidOffset))
}

func TestBin(t *testing.T) {
	tests := []struct {
		name string
		opts BinOptions
		want []any
	}{
		{"equal width", BinOptions{Bins: 2}, []any{"(157.5, 283.46]", "(31.288, 157.5]", "(157.5, 283.46]", "(31.288, 157.5]"}},
		{"custom edges", BinOptions{Edges: []float64{0, 200, 400}}, []any{"(200, 400]", "(0, 200]", "(200, 400]", "(0, 200]"}},
		{"quantiles", BinOptions{Bins: 2, Quantiles: true}, []any{"(137.44, 283.46]", "(31.539, 137.44]", "(137.44, 283.46]", "(31.539, 137.44]"}},
		{"labels", BinOptions{Bins: 2, Labels: []string{"low", "high"}}, []any{"high", "low", "high", "low"}},
		{"outside edges", BinOptions{Edges: []float64{0, 100}}, []any{nil, "(0, 100]", nil, "(0, 100]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := spent(t).Bin(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Values("total"))
			assert.True(t, out.IsDiscrete("total"))
			assert.Equal(t, "bin", out.Settings.Transforms[0].Name())
		})
	}

	_, err := spent(t).Bin(BinOptions{Bins: 2, Labels: []string{"one"}})
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfiguration))
}

func TestSample(t *testing.T) {
	records := []Record{
		{Entity: "0", Labels: map[string]any{"label": true}},
		{Entity: "0", Labels: map[string]any{"label": false}},
		{Entity: "1", Labels: map[string]any{"label": true}},
		{Entity: "1", Labels: map[string]any{"label": false}},
	}
	lt := New("entity", model.IndexPosition, []string{"label"}, records, SearchSettings{})

	out, err := lt.Sample(SampleOptions{N: 3, Seed: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())

	out, err = lt.Sample(SampleOptions{Frac: 0.25})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())

	out, err = lt.Sample(SampleOptions{NByLabel: map[string]int{"true": 1, "false": 1}, Seed: 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{true, false}, out.Values("label"))

	out, err = lt.Sample(SampleOptions{NByLabel: map[string]int{"true": 1}, PerInstance: true})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "0", out.Records[0].Entity)
	assert.Equal(t, "1", out.Records[1].Entity)
	assert.Equal(t, []any{true, true}, out.Values("label"))

	_, err = lt.Sample(SampleOptions{})
	assert.Error(t, err)
	_, err = lt.Sample(SampleOptions{N: 1, Frac: 0.5})
	assert.Error(t, err)
}

func TestSample_KeepsOrder(t *testing.T) {
	lt := spent(t)
	out, err := lt.Sample(SampleOptions{N: 4, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, lt.Values("total"), out.Values("total"))
}

func TestSummaries(t *testing.T) {
	lt := spent(t)

	counts, err := lt.Count()
	require.NoError(t, err)
	assert.Equal(t, []EntityCount{{"0", 2}, {"1", 2}}, counts)

	d, err := lt.Distribution()
	require.NoError(t, err)
	assert.False(t, d.Discrete)
	assert.Equal(t, 4, d.Summary.Count)
	assert.InDelta(t, 147.47, d.Summary.Mean, 1e-9)
	assert.InDelta(t, 137.44, d.Summary.Q50, 1e-9)
	assert.Equal(t, 31.54, d.Summary.Min)

	binned, err := lt.Bin(BinOptions{Bins: 2, Labels: []string{"0", "1"}})
	require.NoError(t, err)
	d, err = binned.Distribution()
	require.NoError(t, err)
	assert.Equal(t, []LabelCount{{"0", 2}, {"1", 2}}, d.Labels)
	assert.Equal(t, 4, d.Total())

	rows, columns, err := binned.CountByTime()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, columns)
	require.Len(t, rows, 4)
	assert.Equal(t, "2014-01-01 00:01:00", rows[0].Time.String())
	assert.Equal(t, map[string]int64{"0": 0, "1": 1}, rows[0].Counts)
	assert.Equal(t, map[string]int64{"0": 2, "1": 2}, rows[3].Counts)

	rows, columns, err = lt.CountByTime()
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, columns)
	assert.Equal(t, int64(4), rows[3].Counts["total"])
}

func TestDescribe(t *testing.T) {
	binned, err := spent(t).Bin(BinOptions{Bins: 2})
	require.NoError(t, err)

	d, err := binned.Describe()
	require.NoError(t, err)
	require.NotNil(t, d.Distribution)
	assert.Len(t, d.Transforms, 1)
	assert.Contains(t, d.Settings, [2]string{"window_size", "1h"})
	assert.Contains(t, d.Settings, [2]string{"target_dataframe_name", "customer_id"})

	d, err = spent(t).Describe()
	require.NoError(t, err)
	assert.Nil(t, d.Distribution)
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lt, err := spent(t).Threshold(100)
	require.NoError(t, err)

	require.NoError(t, lt.WriteCSV(dir, true))
	got, err := ReadCSV(dir)
	require.NoError(t, err)

	assert.Equal(t, lt.Settings.RunID, got.Settings.RunID)
	assert.Equal(t, lt.Settings.TargetTypes, got.Settings.TargetTypes)
	assert.Equal(t, lt.Settings.SearchSettings, got.Settings.SearchSettings)
	require.Len(t, got.Settings.Transforms, 1)
	assert.Equal(t, "threshold", got.Settings.Transforms[0].Name())
	assert.Equal(t, lt.Records, got.Records)
}

func TestSettingsKeepPerEntityMinimumData(t *testing.T) {
	dir := t.TempDir()
	lt := spent(t)
	lt.Settings.SearchSettings.MinimumData = "per entity (2 entities)"
	lt.Settings.SearchSettings.MinimumDataByEntity = map[string]string{
		"1": "3",
		"0": "2014-01-01 00:30:00",
	}

	require.NoError(t, lt.WriteCSV(dir, true))
	got, err := ReadCSV(dir)
	require.NoError(t, err)
	assert.Equal(t, lt.Settings.SearchSettings.MinimumDataByEntity, got.Settings.SearchSettings.MinimumDataByEntity)

	d, err := got.Describe()
	require.NoError(t, err)
	assert.Contains(t, d.Settings, [2]string{"minimum_data_by_entity", "0=2014-01-01 00:30:00, 1=3"})
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lt := spent(t)

	require.NoError(t, lt.WriteParquet(dir, true))
	got, err := ReadParquet(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, lt.Records, got.Records)
	assert.Equal(t, lt.Settings.TargetColumns, got.Settings.TargetColumns)
}

func TestReadCSV_MissingSettings(t *testing.T) {
	_, err := ReadCSV(t.TempDir())
	assert.True(t, lferrors.IsCode(err, lferrors.CodeReadFailed))
}

package labels

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/logflow/labelflow/internal/model"
	"github.com/logflow/labelflow/pkg/search"
)

// EntityCount is the number of labels of one entity.
type EntityCount struct {
	Entity string
	Count  int
}

// Count returns the number of non-null labels per entity.
func (lt *LabelTimes) Count() ([]EntityCount, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	var entities []string
	for _, r := range lt.Records {
		if _, ok := counts[r.Entity]; !ok {
			entities = append(entities, r.Entity)
			counts[r.Entity] = 0
		}
		if r.Labels[target] != nil {
			counts[r.Entity]++
		}
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return model.EntityLess(entities[i], entities[j])
	})

	out := make([]EntityCount, len(entities))
	for i, e := range entities {
		out[i] = EntityCount{Entity: e, Count: counts[e]}
	}
	return out, nil
}

// LabelCount is the frequency of one label value.
type LabelCount struct {
	Label string
	Count int
}

// Summary describes a continuous target.
type Summary struct {
	Count                             int
	Mean, Std, Min, Q25, Q50, Q75, Max float64
}

// Distribution is the frequency table of a discrete target, or the summary
// of a continuous one.
type Distribution struct {
	Discrete bool
	Labels   []LabelCount
	Summary  *Summary
}

// Total returns the number of counted labels.
func (d *Distribution) Total() int {
	if !d.Discrete {
		return d.Summary.Count
	}
	n := 0
	for _, l := range d.Labels {
		n += l.Count
	}
	return n
}

// Distribution summarises the single target.
func (lt *LabelTimes) Distribution() (*Distribution, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, err
	}

	if lt.IsDiscrete(target) {
		counts := make(map[string]int)
		for _, v := range lt.Values(target) {
			if key, ok := search.Key(v); ok {
				counts[key]++
			}
		}
		keys := sortedKeys(counts)
		sort.SliceStable(keys, func(i, j int) bool { return labelLess(keys[i], keys[j]) })

		d := &Distribution{Discrete: true, Labels: make([]LabelCount, len(keys))}
		for i, k := range keys {
			d.Labels[i] = LabelCount{Label: k, Count: counts[k]}
		}
		return d, nil
	}

	var values []float64
	for _, v := range lt.Values(target) {
		if f, ok := toFloat(v); ok {
			values = append(values, f)
		}
	}
	return &Distribution{Summary: describe(values)}, nil
}

func describe(values []float64) *Summary {
	s := &Summary{Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Mean, _ = stats.Mean(values)
	s.Min, _ = stats.Min(values)
	s.Max, _ = stats.Max(values)
	if len(values) > 1 {
		s.Std, _ = stats.StandardDeviationSample(values)
	}
	q := quantiles(values, []float64{0.25, 0.5, 0.75})
	s.Q25, s.Q50, s.Q75 = q[0], q[1], q[2]
	return s
}

// quantiles interpolates linearly between closest ranks.
func quantiles(values, q []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make([]float64, len(q))
	for i, p := range q {
		h := p * float64(len(sorted)-1)
		lo := int(h)
		if lo+1 >= len(sorted) {
			out[i] = sorted[len(sorted)-1]
			continue
		}
		out[i] = sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
	}
	return out
}

// TimeCount is the cumulative label count up to one cutoff time.
type TimeCount struct {
	Time   model.Index
	Counts map[string]int64
}

// CountByTime returns cumulative label counts across cutoff times. For a
// discrete target the columns are the label values; otherwise the single
// column is the target name.
func (lt *LabelTimes) CountByTime() ([]TimeCount, []string, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, nil, err
	}
	discrete := lt.IsDiscrete(target)

	perTime := make(map[int64]map[string]int64)
	columnSet := make(map[string]bool)
	for _, r := range lt.Records {
		v := r.Labels[target]
		if v == nil {
			continue
		}
		column := target
		if discrete {
			column, _ = search.Key(v)
		}
		columnSet[column] = true
		if perTime[r.Time.Value] == nil {
			perTime[r.Time.Value] = make(map[string]int64)
		}
		perTime[r.Time.Value][column]++
	}

	times := make([]int64, 0, len(perTime))
	for t := range perTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	columns := sortedKeys(columnSet)
	sort.SliceStable(columns, func(i, j int) bool { return labelLess(columns[i], columns[j]) })

	running := make(map[string]int64, len(columns))
	out := make([]TimeCount, len(times))
	kind := lt.Kind()
	for i, t := range times {
		counts := make(map[string]int64, len(columns))
		for _, c := range columns {
			running[c] += perTime[t][c]
			counts[c] = running[c]
		}
		out[i] = TimeCount{Time: model.Index{Kind: kind, Value: t}, Counts: counts}
	}
	return out, columns, nil
}

// Description is everything needed to print label times for a person.
type Description struct {
	Distribution *Distribution
	Settings     [][2]string
	Transforms   []Transform
}

// Describe gathers the distribution, settings and transforms. The
// distribution is only set for a discrete single target.
func (lt *LabelTimes) Describe() (*Description, error) {
	d := &Description{Transforms: lt.Settings.Transforms}
	if !lt.Empty() {
		target, err := lt.Target()
		if err != nil {
			return nil, err
		}
		if lt.IsDiscrete(target) {
			if d.Distribution, err = lt.Distribution(); err != nil {
				return nil, err
			}
		}
	}

	s := lt.Settings
	pairs := map[string]string{
		"target_dataframe_name":     s.TargetEntity,
		"target_columns":            strings.Join(s.TargetColumns, ", "),
		"target_types":              formatTypes(s.TargetTypes),
		"index_kind":                s.IndexKind,
		"window_size":               s.SearchSettings.WindowSize,
		"gap":                       s.SearchSettings.Gap,
		"minimum_data":              s.SearchSettings.MinimumData,
		"maximum_data":              s.SearchSettings.MaximumData,
		"num_examples_per_instance": s.SearchSettings.NumExamplesPerInstance,
		"run_id":                    s.RunID,
	}
	if by := s.SearchSettings.MinimumDataByEntity; len(by) > 0 {
		parts := make([]string, 0, len(by))
		for _, e := range sortedEntities(by) {
			parts = append(parts, e+"="+by[e])
		}
		pairs["minimum_data_by_entity"] = strings.Join(parts, ", ")
	}
	for _, k := range sortedKeys(pairs) {
		if pairs[k] != "" {
			d.Settings = append(d.Settings, [2]string{k, pairs[k]})
		}
	}
	return d, nil
}

func formatTypes(types map[string]string) string {
	parts := make([]string, 0, len(types))
	for _, k := range sortedKeys(types) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, types[k]))
	}
	return strings.Join(parts, ", ")
}

// labelLess orders label values numerically when both are numbers.
func labelLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return fa < fb
	}
	return a < b
}

// sortedEntities orders entity keys the way searches visit them.
func sortedEntities(m map[string]string) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool {
		return model.EntityLess(keys[i], keys[j])
	})
	return keys
}

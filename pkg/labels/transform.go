package labels

import (
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/offset"
	"github.com/logflow/labelflow/pkg/search"
)

// Threshold turns a continuous target into booleans: true when the label
// is strictly greater than value.
func (lt *LabelTimes) Threshold(value float64) (*LabelTimes, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, err
	}

	out := lt.Clone()
	for _, r := range out.Records {
		v := r.Labels[target]
		if v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, lferrors.New(lferrors.CodeInvalidLabelTime, "threshold needs numeric labels").
				WithContext("target", target).
				WithContext("entity", r.Entity)
		}
		r.Labels[target] = f > value
	}
	out.Settings.TargetTypes[target] = Discrete
	out.Settings.Transforms = append(out.Settings.Transforms, Transform{
		"transform": "threshold",
		"value":     value,
	})
	return out, nil
}

// ApplyLead moves every cutoff time earlier by a fixed duration so labels
// can be predicted in advance.
func (lt *LabelTimes) ApplyLead(value string) (*LabelTimes, error) {
	if lt.Kind() != model.IndexTime {
		return nil, lferrors.InvalidConfiguration("apply lead requires a time index")
	}
	o, err := offset.ParseStep(value)
	if err != nil {
		return nil, err
	}
	d, ok := o.(offset.Duration)
	if !ok {
		return nil, lferrors.InvalidOffset("lead", value).
			WithContext("reason", "lead must be a fixed duration")
	}

	out := lt.Clone()
	for i := range out.Records {
		out.Records[i].Time.Value -= int64(d)
	}
	out.Settings.Transforms = append(out.Settings.Transforms, Transform{
		"transform": "apply_lead",
		"value":     value,
	})
	return out, nil
}

// BinOptions configure Bin. Either Bins or Edges is set.
type BinOptions struct {
	// Bins is the number of equal-width bins, or of quantiles.
	Bins int

	// Edges are explicit bin edges, or quantile fractions in [0, 1].
	Edges []float64

	// Quantiles switches to quantile-based binning.
	Quantiles bool

	// Labels name the bins instead of the interval text.
	Labels []string

	// LeftClosed makes intervals [a, b) instead of (a, b].
	LeftClosed bool

	// Precision of interval labels. Zero means 3.
	Precision int
}

// Bin discretises a numeric target into intervals. Values outside every
// interval become null.
func (lt *LabelTimes) Bin(opts BinOptions) (*LabelTimes, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, err
	}
	if opts.Precision == 0 {
		opts.Precision = 3
	}

	var values []float64
	for _, r := range lt.Records {
		if v := r.Labels[target]; v != nil {
			f, ok := toFloat(v)
			if !ok {
				return nil, lferrors.New(lferrors.CodeInvalidLabelTime, "bin needs numeric labels").
					WithContext("target", target)
			}
			values = append(values, f)
		}
	}

	edges, includeLowest, err := binEdges(values, opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Labels) > 0 && len(opts.Labels) != len(edges)-1 {
		return nil, lferrors.InvalidConfiguration("bin labels must match the number of bins").
			WithContext("bins", len(edges)-1).
			WithContext("labels", len(opts.Labels))
	}
	names := opts.Labels
	if len(names) == 0 {
		names = intervalNames(edges, includeLowest, opts)
	}

	out := lt.Clone()
	for _, r := range out.Records {
		v := r.Labels[target]
		if v == nil {
			continue
		}
		f, _ := toFloat(v)
		if i := binOf(f, edges, includeLowest, opts.LeftClosed); i >= 0 {
			r.Labels[target] = names[i]
		} else {
			r.Labels[target] = nil
		}
	}

	out.Settings.TargetTypes[target] = Discrete
	out.Settings.Transforms = append(out.Settings.Transforms, Transform{
		"transform": "bin",
		"bins":      binsSetting(opts),
		"quantiles": opts.Quantiles,
		"labels":    opts.Labels,
		"right":     !opts.LeftClosed,
		"precision": opts.Precision,
	})
	return out, nil
}

func binsSetting(opts BinOptions) any {
	if len(opts.Edges) > 0 {
		return opts.Edges
	}
	return opts.Bins
}

// binEdges resolves the interval edges. Equal-width bins widen the range by
// 0.1% so the extremes fall inside; quantile bins include the lowest value.
func binEdges(values []float64, opts BinOptions) ([]float64, bool, error) {
	switch {
	case len(opts.Edges) > 0:
		if len(opts.Edges) < 2 || !sort.Float64sAreSorted(opts.Edges) {
			return nil, false, lferrors.InvalidConfiguration("bin edges must increase monotonically")
		}
		if !opts.Quantiles {
			return append([]float64(nil), opts.Edges...), false, nil
		}
		edges, err := quantileEdges(values, opts.Edges)
		return edges, true, err

	case opts.Bins < 1:
		return nil, false, lferrors.InvalidConfiguration("number of bins must be positive")

	case opts.Quantiles:
		q := make([]float64, opts.Bins+1)
		for i := range q {
			q[i] = float64(i) / float64(opts.Bins)
		}
		edges, err := quantileEdges(values, q)
		return edges, true, err
	}

	if len(values) == 0 {
		return nil, false, lferrors.New(lferrors.CodeInvalidLabelTime, "no labels to bin")
	}
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)

	edges := make([]float64, opts.Bins+1)
	if lo == hi {
		if lo != 0 {
			lo -= 0.001 * math.Abs(lo)
			hi += 0.001 * math.Abs(hi)
		} else {
			lo, hi = -0.001, 0.001
		}
		for i := range edges {
			edges[i] = lo + (hi-lo)*float64(i)/float64(opts.Bins)
		}
		return edges, false, nil
	}

	for i := range edges {
		edges[i] = lo + (hi-lo)*float64(i)/float64(opts.Bins)
	}
	edges[opts.Bins] = hi
	adj := (hi - lo) * 0.001
	if opts.LeftClosed {
		edges[opts.Bins] += adj
	} else {
		edges[0] -= adj
	}
	return edges, false, nil
}

func quantileEdges(values, q []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, lferrors.New(lferrors.CodeInvalidLabelTime, "no labels to bin")
	}
	for _, p := range q {
		if p < 0 || p > 1 {
			return nil, lferrors.InvalidConfiguration("quantiles must be within [0, 1]").
				WithContext("quantile", p)
		}
	}

	edges := quantiles(values, q)
	for i := 1; i < len(edges); i++ {
		if edges[i] == edges[i-1] {
			return nil, lferrors.InvalidConfiguration("bin edges must be unique").
				WithContext("edge", edges[i])
		}
	}
	return edges, nil
}

func binOf(v float64, edges []float64, includeLowest, leftClosed bool) int {
	for i := 0; i < len(edges)-1; i++ {
		lo, hi := edges[i], edges[i+1]
		if leftClosed {
			if v >= lo && v < hi {
				return i
			}
			continue
		}
		if (v > lo || (i == 0 && includeLowest && v == lo)) && v <= hi {
			return i
		}
	}
	return -1
}

func intervalNames(edges []float64, includeLowest bool, opts BinOptions) []string {
	names := make([]string, len(edges)-1)
	for i := range names {
		lo := edges[i]
		if i == 0 && includeLowest {
			lo -= math.Pow10(-opts.Precision)
		}
		left, right := "(", "]"
		if opts.LeftClosed {
			left, right = "[", ")"
		}
		names[i] = left + formatEdge(lo, opts.Precision) + ", " + formatEdge(edges[i+1], opts.Precision) + right
	}
	return names
}

// formatEdge rounds to precision significant digits after any leading
// zeros of the fractional part.
func formatEdge(x float64, precision int) string {
	switch {
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	case x == math.Trunc(x):
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	whole, frac := math.Modf(x)
	digits := precision
	if whole != 0 {
		digits = int(-math.Floor(math.Log10(math.Abs(frac)))) + precision - 1
	}
	r, err := stats.Round(x, digits)
	if err != nil {
		r = x
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// SampleOptions configure Sample. Exactly one of N, Frac, NByLabel or
// FracByLabel is set.
type SampleOptions struct {
	N           int
	Frac        float64
	NByLabel    map[string]int
	FracByLabel map[string]float64

	Seed        int64
	Replace     bool
	PerInstance bool
}

// Sample draws a random subset of the records, keeping their order.
func (lt *LabelTimes) Sample(opts SampleOptions) (*LabelTimes, error) {
	target, err := lt.Target()
	if err != nil {
		return nil, err
	}
	set := 0
	for _, ok := range []bool{opts.N > 0, opts.Frac > 0, len(opts.NByLabel) > 0, len(opts.FracByLabel) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, lferrors.InvalidConfiguration("must set exactly one of n or frac")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var groups [][]int
	if opts.PerInstance {
		groups = lt.groupByEntity()
	} else {
		all := make([]int, len(lt.Records))
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	}

	var picked []int
	for _, g := range groups {
		switch {
		case opts.N > 0:
			picked = append(picked, draw(rng, g, opts.N, opts.Replace)...)
		case opts.Frac > 0:
			picked = append(picked, draw(rng, g, fracCount(opts.Frac, len(g)), opts.Replace)...)
		default:
			byLabel := lt.groupByLabel(g, target)
			for _, label := range sortedKeys(opts.NByLabel) {
				picked = append(picked, draw(rng, byLabel[label], opts.NByLabel[label], opts.Replace)...)
			}
			for _, label := range sortedKeys(opts.FracByLabel) {
				rows := byLabel[label]
				picked = append(picked, draw(rng, rows, fracCount(opts.FracByLabel[label], len(rows)), opts.Replace)...)
			}
		}
	}
	sort.Ints(picked)

	out := lt.Clone()
	records := out.Records
	out.Records = make([]Record, len(picked))
	for i, idx := range picked {
		out.Records[i] = records[idx]
	}
	transform := Transform{
		"transform":    "sample",
		"n":            nil,
		"frac":         nil,
		"random_state": opts.Seed,
		"replace":      opts.Replace,
		"per_instance": opts.PerInstance,
	}
	switch {
	case opts.N > 0:
		transform["n"] = opts.N
	case len(opts.NByLabel) > 0:
		transform["n"] = opts.NByLabel
	case opts.Frac > 0:
		transform["frac"] = opts.Frac
	default:
		transform["frac"] = opts.FracByLabel
	}
	out.Settings.Transforms = append(out.Settings.Transforms, transform)
	return out, nil
}

func fracCount(frac float64, n int) int {
	return int(math.Round(frac * float64(n)))
}

// draw picks n row numbers. Without replacement n is capped at len(rows).
func draw(rng *rand.Rand, rows []int, n int, replace bool) []int {
	if len(rows) == 0 {
		return nil
	}
	if replace {
		out := make([]int, n)
		for i := range out {
			out[i] = rows[rng.Intn(len(rows))]
		}
		return out
	}
	if n > len(rows) {
		n = len(rows)
	}
	perm := rng.Perm(len(rows))[:n]
	out := make([]int, n)
	for i, p := range perm {
		out[i] = rows[p]
	}
	return out
}

func (lt *LabelTimes) groupByEntity() [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i, r := range lt.Records {
		g, ok := index[r.Entity]
		if !ok {
			g = len(groups)
			index[r.Entity] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

func (lt *LabelTimes) groupByLabel(rows []int, target string) map[string][]int {
	out := make(map[string][]int)
	for _, i := range rows {
		if key, ok := search.Key(lt.Records[i].Labels[target]); ok {
			out[key] = append(out[key], i)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

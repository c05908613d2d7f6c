// Package loader reads event tables and per-entity cutoff tables from
// files: CSV, TSV, JSON, JSONL and Parquet through DuckDB, XLSX through
// excelize.
package loader

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/labeler"
)

// Format identifies an input file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

// DetectFormat returns the format named by a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", lferrors.New(lferrors.CodeUnsupportedFormat, "unsupported input format").
		WithContext("path", path)
}

// ParseFormat validates a format name. An empty name is detected from path.
func ParseFormat(name, path string) (Format, error) {
	if name == "" {
		return DetectFormat(path)
	}
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FormatCSV, FormatTSV, FormatJSON, FormatJSONL, FormatParquet, FormatXLSX:
		return f, nil
	}
	return "", lferrors.New(lferrors.CodeUnsupportedFormat, "unsupported input format").
		WithContext("format", name)
}

// Options configure Load.
type Options struct {
	Path         string
	Format       string
	EntityColumn string
	TimeIndex    string

	// Sort orders rows by entity then index. Without it the generator
	// rejects unsorted logs.
	Sort bool

	// Sheet selects an XLSX sheet. Defaults to the first one.
	Sheet string
}

// frame is a decoded file before it becomes a table.
type frame struct {
	columns []string
	rows    [][]any
}

func (f *frame) column(name string) (int, error) {
	for i, c := range f.columns {
		if c == name {
			return i, nil
		}
	}
	return -1, lferrors.MissingColumn(name, f.columns)
}

// Load reads an event table.
func Load(ctx context.Context, opts Options) (*model.Table, error) {
	f, err := read(ctx, opts.Path, opts.Format, opts.Sheet, sortKeys(opts))
	if err != nil {
		return nil, err
	}
	return buildTable(f, opts)
}

func sortKeys(opts Options) []string {
	if !opts.Sort {
		return nil
	}
	return []string{opts.EntityColumn, opts.TimeIndex}
}

func read(ctx context.Context, path, format, sheet string, orderBy []string) (*frame, error) {
	fmtName, err := ParseFormat(format, path)
	if err != nil {
		return nil, err
	}
	if fmtName == FormatXLSX {
		f, err := readXLSX(ctx, path, sheet)
		if err != nil {
			return nil, err
		}
		if len(orderBy) > 0 {
			if err := f.sort(orderBy); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
	return readDuckDB(ctx, path, fmtName, orderBy)
}

// sort orders rows by the given columns, nulls last.
func (f *frame) sort(by []string) error {
	idx := make([]int, len(by))
	for i, name := range by {
		c, err := f.column(name)
		if err != nil {
			return err
		}
		idx[i] = c
	}
	sort.SliceStable(f.rows, func(a, b int) bool {
		for _, c := range idx {
			if cmp := compareValues(f.rows[a][c], f.rows[b][c]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return nil
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func buildTable(f *frame, opts Options) (*model.Table, error) {
	entityIdx, err := f.column(opts.EntityColumn)
	if err != nil {
		return nil, err
	}
	timeIdx, err := f.column(opts.TimeIndex)
	if err != nil {
		return nil, err
	}

	kind, err := indexKind(f.rows, timeIdx)
	if err != nil {
		return nil, err
	}

	var payload []string
	for i, c := range f.columns {
		if i != entityIdx && i != timeIdx {
			payload = append(payload, c)
		}
	}
	table := model.NewTable(opts.EntityColumn, opts.TimeIndex, kind, payload...)

	for n, row := range f.rows {
		entity, ok := EntityKey(row[entityIdx])
		if !ok {
			// Rows without an entity belong to no group.
			continue
		}

		fields := make(map[string]any, len(payload))
		for i, c := range f.columns {
			if i != entityIdx && i != timeIdx {
				fields[c] = row[i]
			}
		}

		if row[timeIdx] == nil {
			table.AppendNull(entity, fields)
			continue
		}
		index, err := indexValue(row[timeIdx], kind)
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeReadFailed, "invalid index value").
				WithContext("row", n+1).
				WithContext("column", opts.TimeIndex)
		}
		table.Append(entity, index, fields)
	}
	return table, nil
}

// indexKind decides from the first non-null value: integers make a
// positional index, times and date strings a time index.
func indexKind(rows [][]any, col int) (model.IndexKind, error) {
	for _, row := range rows {
		switch v := row[col].(type) {
		case nil:
			continue
		case time.Time:
			return model.IndexTime, nil
		case int64:
			return model.IndexPosition, nil
		case float64:
			if v == math.Trunc(v) {
				return model.IndexPosition, nil
			}
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				return model.IndexPosition, nil
			}
			if _, err := dateparse.ParseIn(v, time.UTC); err == nil {
				return model.IndexTime, nil
			}
		}
		return 0, lferrors.New(lferrors.CodeReadFailed, "index must hold integers or timestamps").
			WithContext("value", fmt.Sprintf("%v", row[col]))
	}
	// Nothing to decide from; every row is null.
	return model.IndexTime, nil
}

func indexValue(v any, kind model.IndexKind) (int64, error) {
	if kind == model.IndexTime {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().UnixNano(), nil
		case string:
			parsed, err := dateparse.ParseIn(t, time.UTC)
			if err != nil {
				return 0, err
			}
			return parsed.UnixNano(), nil
		}
		return 0, fmt.Errorf("%v (%T) is not a timestamp", v, v)
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("%v (%T) is not a position", v, v)
}

// EntityKey renders an entity value as its grouping key. Integral floats
// lose their fraction so that 1 and 1.0 name the same entity.
func EntityKey(v any) (string, bool) {
	switch e := v.(type) {
	case nil:
		return "", false
	case string:
		return e, true
	case int64:
		return strconv.FormatInt(e, 10), true
	case float64:
		if math.IsNaN(e) {
			return "", false
		}
		if e == math.Trunc(e) && math.Abs(e) < 1<<53 {
			return strconv.FormatInt(int64(e), 10), true
		}
		return strconv.FormatFloat(e, 'g', -1, 64), true
	case time.Time:
		return e.UTC().Format(time.RFC3339Nano), true
	}
	return fmt.Sprint(v), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// CutoffOptions configure LoadCutoffs.
type CutoffOptions struct {
	Path         string
	Format       string
	Sheet        string
	EntityColumn string
	ValueColumn  string
}

// LoadCutoffs reads one minimum data value per entity. Duplicates are kept
// so that the search can report them.
func LoadCutoffs(ctx context.Context, opts CutoffOptions) ([]labeler.EntityOffset, error) {
	f, err := read(ctx, opts.Path, opts.Format, opts.Sheet, nil)
	if err != nil {
		return nil, err
	}
	return cutoffs(f, opts)
}

func cutoffs(f *frame, opts CutoffOptions) ([]labeler.EntityOffset, error) {
	entityIdx, err := f.column(opts.EntityColumn)
	if err != nil {
		return nil, err
	}
	valueIdx, err := f.column(opts.ValueColumn)
	if err != nil {
		return nil, err
	}

	out := make([]labeler.EntityOffset, 0, len(f.rows))
	for _, row := range f.rows {
		entity, ok := EntityKey(row[entityIdx])
		if !ok {
			continue
		}
		out = append(out, labeler.EntityOffset{Entity: entity, MinimumData: row[valueIdx]})
	}
	return out, nil
}

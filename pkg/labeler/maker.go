// Package labeler drives the window generator over every entity of an
// event table, applies labeling functions to each window and keeps the
// labels a search policy accepts.
package labeler

import (
	"context"
	"fmt"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/offset"
	"github.com/logflow/labelflow/pkg/search"
	"github.com/logflow/labelflow/pkg/window"
)

// LabelFunc computes a label for one window. A nil result means the window
// has no label. Errors are returned to the caller unchanged.
type LabelFunc func(ctx context.Context, w *window.Window) (any, error)

// LabelingFunction is a named LabelFunc. The name becomes the label column.
type LabelingFunction struct {
	Name string
	Fn   LabelFunc
}

// Maker makes labels for one target entity.
type Maker struct {
	// EntityColumn names the column whose values identify entities.
	EntityColumn string

	// TimeIndex names the index column.
	TimeIndex string

	// Functions are applied in order to every window.
	Functions []LabelingFunction

	// WindowSize is the size of each window: a row count, a duration or a
	// calendar frequency. When it names a column of the table, windows are
	// the groups of that column instead. Nil means all remaining data.
	WindowSize any

	// WindowColumn forces grouping by a column.
	WindowColumn string

	// Positivity governs window size and gap magnitudes.
	Positivity offset.Positivity
}

// EntityOffset is the minimum data of one entity.
type EntityOffset struct {
	Entity      string
	MinimumData any
}

// Names returns the labeling function names in order.
func (m *Maker) Names() []string {
	names := make([]string, len(m.Functions))
	for i, f := range m.Functions {
		names[i] = f.Name
	}
	return names
}

func (m *Maker) checkFunctions() error {
	if len(m.Functions) == 0 {
		return lferrors.New(lferrors.CodeInvalidFunction, "missing labeling function(s)")
	}
	seen := make(map[string]bool, len(m.Functions))
	for i, f := range m.Functions {
		if f.Name == "" {
			return lferrors.New(lferrors.CodeInvalidFunction, "labeling function name must not be empty").
				WithContext("position", i)
		}
		if f.Fn == nil {
			return lferrors.New(lferrors.CodeInvalidFunction, "labeling function must be callable").
				WithContext("name", f.Name)
		}
		if seen[f.Name] {
			return lferrors.New(lferrors.CodeInvalidFunction, "duplicate labeling function name").
				WithContext("name", f.Name)
		}
		if f.Name == m.EntityColumn || f.Name == "time" {
			return lferrors.New(lferrors.CodeInvalidFunction, "labeling function name clashes with an output column").
				WithContext("name", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// windowColumn returns the grouping column, if windows come from a column.
func (m *Maker) windowColumn(table *model.Table) (string, error) {
	if m.WindowColumn != "" {
		if !table.HasColumn(m.WindowColumn) {
			return "", lferrors.MissingColumn(m.WindowColumn, table.Columns)
		}
		return m.WindowColumn, nil
	}
	if name, ok := m.WindowSize.(string); ok && table.HasColumn(name) {
		return name, nil
	}
	return "", nil
}

// offsets holds the search offsets parsed once for the whole table.
type offsets struct {
	size, gap, maximum, minimum offset.Offset
	byEntity                    map[string]any
	byEntitySetting             map[string]string
}

// parseOffsets surfaces configuration errors before any window is produced.
// The generator parses the raw values again per entity.
func (m *Maker) parseOffsets(table *model.Table, column string, opts *SearchOptions) (*offsets, error) {
	var (
		o   offsets
		err error
	)
	if column == "" {
		if o.size, err = parseStep("window_size", m.WindowSize, m.Positivity); err != nil {
			return nil, err
		}
	}
	if o.gap, err = parseStep("gap", opts.Gap, m.Positivity); err != nil {
		return nil, err
	}
	if o.maximum, err = parseBoundary("maximum_data", opts.MaximumData); err != nil {
		return nil, err
	}

	if opts.MinimumDataByEntity != nil {
		o.byEntity = make(map[string]any, len(opts.MinimumDataByEntity))
		o.byEntitySetting = make(map[string]string, len(opts.MinimumDataByEntity))
		for _, e := range opts.MinimumDataByEntity {
			if _, dup := o.byEntity[e.Entity]; dup {
				return nil, lferrors.New(lferrors.CodeAmbiguousCutoff, "more than one cutoff time exists for a target group").
					WithContext("entity", e.Entity)
			}
			cutoff, err := parseBoundary("minimum_data", e.MinimumData)
			if err != nil {
				return nil, lferrors.Wrap(err, lferrors.GetCode(err), "invalid minimum data").
					WithContext("entity", e.Entity)
			}
			o.byEntity[e.Entity] = e.MinimumData
			o.byEntitySetting[e.Entity] = settingString(cutoff)
		}
	} else if o.minimum, err = parseBoundary("minimum_data", opts.MinimumData); err != nil {
		return nil, err
	}

	if table.IndexKind != model.IndexTime {
		for _, v := range []offset.Offset{o.size, o.gap, o.maximum, o.minimum} {
			if offset.IsTimeBased(v) {
				return nil, lferrors.InvalidConfiguration("offset by frequency requires a time index").
					WithContext("offset", v.String())
			}
		}
	}
	return &o, nil
}

// checkGap rejects a search that would take several examples from one
// window spanning the whole log. Empty strings count as unset.
func (o *offsets) checkGap(column string, target search.Target) error {
	if o.size == nil && o.gap == nil && column == "" && target.WantsMany() {
		return lferrors.InvalidConfiguration("must specify gap if num_examples > 1 and window size = none").
			WithContext("num_examples_per_instance", target.String())
	}
	return nil
}

func parseStep(param string, raw any, p offset.Positivity) (offset.Offset, error) {
	o, err := offset.ParseStep(raw)
	if err != nil {
		return nil, withParam(err, param)
	}
	if o == nil {
		return nil, nil
	}
	if err := p.Check(param, o); err != nil {
		return nil, err
	}
	return o, nil
}

func parseBoundary(param string, raw any) (offset.Offset, error) {
	o, err := offset.Parse(raw)
	if err != nil {
		return nil, withParam(err, param)
	}
	if err := offset.CheckBoundary(param, o); err != nil {
		return nil, err
	}
	return o, nil
}

func withParam(err error, param string) error {
	if lfErr, ok := err.(*lferrors.Error); ok {
		return lfErr.WithContext("param", param)
	}
	return err
}

// settingString renders an offset for the label times settings.
func settingString(o offset.Offset) string {
	if o == nil {
		return "None"
	}
	return o.String()
}

func describeMinimum(o *offsets) string {
	if o.byEntity != nil {
		return fmt.Sprintf("per entity (%d entities)", len(o.byEntity))
	}
	return settingString(o.minimum)
}

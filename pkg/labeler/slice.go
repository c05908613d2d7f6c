package labeler

import (
	"context"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/search"
	"github.com/logflow/labelflow/pkg/window"
)

// SliceIterator walks the windows of every entity without labelling them.
type SliceIterator struct {
	ctx    context.Context
	maker  *Maker
	opts   SearchOptions
	column string
	limit  int64

	jobs    []job
	pos     int
	inner   window.Iterator
	current *window.Window
	err     error
}

// Slice returns the windows a search would visit, at most
// NumExamplesPerInstance per entity counted by slice number. Per-label
// targets are not supported because windows are not labelled.
func (m *Maker) Slice(ctx context.Context, table *model.Table, opts SearchOptions) (*SliceIterator, error) {
	target, err := search.ParseTarget(opts.NumExamplesPerInstance)
	if err != nil {
		return nil, err
	}
	if target.IsPerLabel() {
		return nil, lferrors.New(lferrors.CodeInvalidTarget, "slicing needs a single number of examples").
			WithContext("value", target.String())
	}
	column, err := m.windowColumn(table)
	if err != nil {
		return nil, err
	}
	parsed, err := m.parseOffsets(table, column, &opts)
	if err != nil {
		return nil, err
	}
	if err := parsed.checkGap(column, target); err != nil {
		return nil, err
	}

	it := &SliceIterator{ctx: ctx, maker: m, opts: opts, column: column, limit: target.Count}
	for i, l := range table.GroupBy() {
		start := opts.MinimumData
		if parsed.byEntity != nil {
			s, ok := parsed.byEntity[l.Entity]
			if !ok {
				continue
			}
			start = s
		}
		it.jobs = append(it.jobs, job{log: l, start: start, group: int64(i + 1)})
	}
	return it, nil
}

// Next advances to the next window of the current or a following entity.
func (it *SliceIterator) Next() bool {
	it.current = nil
	for it.err == nil {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}

		if it.inner == nil {
			if it.pos >= len(it.jobs) {
				return false
			}
			j := it.jobs[it.pos]
			it.pos++
			it.inner, it.err = it.maker.windows(j.log, j.start, it.column, &it.opts)
			continue
		}

		if !it.inner.Next() {
			it.err = it.inner.Err()
			it.inner = nil
			continue
		}
		w := it.inner.Window()
		if it.limit != search.Unbounded && int64(w.Context.SliceNumber) >= it.limit {
			it.inner = nil
		}
		it.current = w
		return true
	}
	return false
}

// Window returns the current window.
func (it *SliceIterator) Window() *window.Window {
	return it.current
}

// Err returns the first error met while building an entity's windows.
func (it *SliceIterator) Err() error {
	return it.err
}

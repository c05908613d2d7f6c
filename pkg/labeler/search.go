package labeler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/labelflow/internal/model"
	"github.com/logflow/labelflow/pkg/labels"
	"github.com/logflow/labelflow/pkg/logging"
	"github.com/logflow/labelflow/pkg/search"
	"github.com/logflow/labelflow/pkg/window"
)

const tracerName = "github.com/logflow/labelflow/pkg/labeler"

// Progress receives search progress. Start is called once with the total,
// Add as examples and entities complete, Finish once at the end.
type Progress interface {
	Start(total int64)
	Add(n int64)
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int64) {}
func (nopProgress) Add(int64)   {}
func (nopProgress) Finish()     {}

// lockedProgress serialises calls from parallel workers.
type lockedProgress struct {
	mu sync.Mutex
	p  Progress
}

func (l *lockedProgress) Start(total int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Start(total)
}

func (l *lockedProgress) Add(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Add(n)
}

func (l *lockedProgress) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Finish()
}

// SearchOptions configure Search and Slice.
type SearchOptions struct {
	// NumExamplesPerInstance is the target per entity: a count, -1 or
	// "inf" for all, or a map of label value to count. Nil means all.
	NumExamplesPerInstance any

	// MinimumData is where the search starts for every entity.
	MinimumData any

	// MinimumDataByEntity replaces MinimumData with one start per entity.
	// Entities without an entry are skipped.
	MinimumDataByEntity []EntityOffset

	// MaximumData bounds where windows may start.
	MaximumData any

	// Gap between window starts. Defaults to the window size.
	Gap any

	// KeepEmpty also yields windows without events.
	KeepEmpty bool

	// Progress receives progress updates. Nil disables reporting.
	Progress Progress

	// Workers searches that many entities at once. Values below 2 search
	// sequentially.
	Workers int
}

// job is one entity to search.
type job struct {
	log   *model.EventLog
	start any
	// group is the 1-based position of the entity among all entities.
	group int64
}

// Search labels every entity of the table and returns the accepted
// records in entity order.
func (m *Maker) Search(ctx context.Context, table *model.Table, opts SearchOptions) (*labels.LabelTimes, error) {
	log := logging.FromContext(ctx)
	ctx = logging.WithLogger(ctx, log)
	started := time.Now()

	if err := m.checkFunctions(); err != nil {
		return nil, err
	}
	target, err := search.ParseTarget(opts.NumExamplesPerInstance)
	if err != nil {
		return nil, err
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

	logs := table.GroupBy()
	jobs := make([]job, 0, len(logs))
	for i, l := range logs {
		start := opts.MinimumData
		if parsed.byEntity != nil {
			s, ok := parsed.byEntity[l.Entity]
			if !ok {
				continue
			}
			start = s
		}
		jobs = append(jobs, job{log: l, start: start, group: int64(i + 1)})
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "labelflow.search", trace.WithAttributes(
		attribute.String("labelflow.entity_column", m.EntityColumn),
		attribute.Int("labelflow.entities", len(logs)),
		attribute.String("labelflow.target", target.String()),
	))
	defer span.End()

	progress := opts.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	total := int64(len(logs))
	if !target.IsUnbounded() {
		total *= target.Total()
	}
	progress.Start(total)

	var results [][]labels.Record
	if opts.Workers > 1 {
		results, err = m.searchParallel(ctx, jobs, target, column, &opts, progress, total)
	} else {
		results, err = m.searchSequential(ctx, jobs, target, column, &opts, progress, total)
	}
	progress.Finish()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var records []labels.Record
	for _, r := range results {
		records = append(records, r...)
	}

	lt := labels.New(m.EntityColumn, table.IndexKind, m.Names(), records, labels.SearchSettings{
		WindowSize:             m.windowSetting(column, parsed),
		Gap:                    settingString(parsed.gap),
		MinimumData:            describeMinimum(parsed),
		MaximumData:            settingString(parsed.maximum),
		NumExamplesPerInstance: target.String(),
		MinimumDataByEntity:    parsed.byEntitySetting,
	})
	span.SetAttributes(attribute.Int("labelflow.records", lt.Len()))
	log.Infow("Label search finished",
		"entities", len(logs),
		"searched", len(jobs),
		"records", lt.Len(),
		"run_id", lt.Settings.RunID,
		"elapsed", time.Since(started))
	return lt, nil
}

// searchSequential reproduces the progress accounting of a single pass:
// one unit per accepted example, then a catch-up at each entity boundary
// for finite targets, or one unit per entity for unbounded ones.
func (m *Maker) searchSequential(ctx context.Context, jobs []job, target search.Target, column string, opts *SearchOptions, progress Progress, total int64) ([][]labels.Record, error) {
	results := make([][]labels.Record, len(jobs))
	var done int64
	finite := !target.IsUnbounded()

	for i, j := range jobs {
		onAccept := func() {
			if finite {
				progress.Add(1)
				done++
			}
		}
		records, err := m.searchEntity(ctx, j, target, column, opts, onAccept)
		if err != nil {
			return nil, err
		}
		results[i] = records

		step := int64(1)
		if finite {
			step = j.group*target.Total() - done
		}
		progress.Add(step)
		done += step
	}
	progress.Add(total - done)
	return results, nil
}

// searchParallel runs entities on a bounded worker pool. For finite
// targets each accepted example advances progress by one unit and the rest
// of the entity's share is settled when it finishes.
func (m *Maker) searchParallel(ctx context.Context, jobs []job, target search.Target, column string, opts *SearchOptions, progress Progress, total int64) ([][]labels.Record, error) {
	results := make([][]labels.Record, len(jobs))
	locked := &lockedProgress{p: progress}
	finite := !target.IsUnbounded()
	share := int64(1)
	if finite {
		share = target.Total()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			var accepted int64
			onAccept := func() {
				if finite {
					locked.Add(1)
					accepted++
				}
			}
			records, err := m.searchEntity(gctx, j, target, column, opts, onAccept)
			if err != nil {
				return err
			}
			results[i] = records
			locked.Add(share - accepted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	locked.Add(total - share*int64(len(jobs)))
	return results, nil
}

// searchEntity labels the windows of one entity until its policy is
// complete or the windows run out.
func (m *Maker) searchEntity(ctx context.Context, j job, target search.Target, column string, opts *SearchOptions, onAccept func()) ([]labels.Record, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "labelflow.search.entity",
		trace.WithAttributes(attribute.String("labelflow.entity", j.log.Entity)))
	defer span.End()

	it, err := m.windows(j.log, j.start, column, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	policy := target.NewPolicy()
	var (
		records []labels.Record
		seen    int
	)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := it.Window()
		seen++

		values := make(search.Labels, len(m.Functions))
		for _, f := range m.Functions {
			v, err := f.Fn(ctx, w)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			values[f.Name] = v
		}
		if !policy.IsValid(values) {
			continue
		}

		records = append(records, labels.Record{
			Entity: j.log.Entity,
			Time:   w.Context.Start,
			Labels: values,
		})
		policy.Update(values)
		onAccept()
		if policy.IsComplete() {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("labelflow.windows", seen),
		attribute.Int("labelflow.records", len(records)),
	)
	logging.FromContext(ctx).Debugw("Entity searched",
		"entity", j.log.Entity,
		"windows", seen,
		"records", len(records),
		"complete", policy.IsComplete())
	return records, nil
}

// windows returns the window iterator of one entity.
func (m *Maker) windows(log *model.EventLog, start any, column string, opts *SearchOptions) (window.Iterator, error) {
	if column != "" {
		return window.ByColumn(log, column)
	}
	return window.New(log, window.Options{
		Size:       m.WindowSize,
		Start:      start,
		Stop:       opts.MaximumData,
		Step:       opts.Gap,
		DropEmpty:  !opts.KeepEmpty,
		Positivity: m.Positivity,
	})
}

func (m *Maker) windowSetting(column string, o *offsets) string {
	if column != "" {
		return column
	}
	return settingString(o.size)
}

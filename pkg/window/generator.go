package window

import (
	"sort"

	"github.com/logflow/labelflow/internal/model"
	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/offset"
)

// Options configures a Generator. Offsets accept anything offset.Parse
// accepts; nil values take their defaults.
type Options struct {
	// Size of each window. Defaults to the number of events in the log.
	Size any

	// Start of the first window. Defaults to the first index value.
	Start any

	// Stop bounds where windows may start. Defaults to the last index value.
	Stop any

	// Step between window starts. Defaults to Size.
	Step any

	// DropEmpty suppresses windows without events.
	DropEmpty bool

	// Positivity governs size and step magnitudes.
	Positivity offset.Positivity
}

// Generator produces windows over one event log on demand.
type Generator struct {
	log       *model.EventLog
	size      offset.Offset
	step      offset.Offset
	stop      int64
	lastIndex int64
	dropEmpty bool

	rows        []model.Event
	cursor      int64
	cursorValid bool
	sliceNumber int

	current *Window
	done    bool
}

// New validates the log and the offsets and returns a generator positioned
// before the first window.
func New(log *model.EventLog, opts Options) (*Generator, error) {
	if err := ValidateLog(log); err != nil {
		return nil, err
	}

	g := &Generator{log: log, dropEmpty: opts.DropEmpty}
	if log.Len() == 0 {
		g.done = true
		return g, nil
	}

	first := log.Events[0].Index
	g.lastIndex = log.Events[log.Len()-1].Index

	size, err := offset.ParseStep(opts.Size)
	if err != nil {
		return nil, withParam(err, "size")
	}
	if size == nil {
		size = offset.Position(log.Len())
	}
	if err := opts.Positivity.Check("size", size); err != nil {
		return nil, err
	}

	step, err := offset.ParseStep(opts.Step)
	if err != nil {
		return nil, withParam(err, "step")
	}
	if step == nil {
		step = size
	}
	if err := opts.Positivity.Check("step", step); err != nil {
		return nil, err
	}
	// A zero step never moves the cursor, even where the policy allows zero.
	if n, _ := offset.Magnitude(step); n == 0 {
		return nil, lferrors.NonPositiveOffset("step", step.String()).
			WithContext("reason", "step must advance the window start")
	}

	start, err := offset.Parse(opts.Start)
	if err != nil {
		return nil, withParam(err, "start")
	}
	if err := offset.CheckBoundary("start", start); err != nil {
		return nil, err
	}

	stop, err := offset.Parse(opts.Stop)
	if err != nil {
		return nil, withParam(err, "stop")
	}
	if err := offset.CheckBoundary("stop", stop); err != nil {
		return nil, err
	}

	if !log.IsTimeIndex() {
		for _, o := range []offset.Offset{size, start, stop, step} {
			if offset.IsTimeBased(o) {
				return nil, lferrors.InvalidConfiguration("offset by frequency requires a time index").
					WithContext("offset", o.String()).
					WithContext("entity", log.Entity)
			}
		}
	}

	g.size = size
	g.step = step
	g.stop = g.resolveStop(stop, first)
	g.resolveStart(start, first)

	if len(g.rows) == 0 && g.dropEmpty {
		g.done = true
	}
	return g, nil
}

// ValidateLog checks that every index value is present and that the log is
// sorted in ascending index order.
func ValidateLog(log *model.EventLog) error {
	for i, e := range log.Events {
		if e.IndexNull {
			return lferrors.New(lferrors.CodeNullIndex, "index contains null values").
				WithContext("entity", log.Entity).
				WithContext("row", i)
		}
		if i > 0 && e.Index < log.Events[i-1].Index {
			return lferrors.New(lferrors.CodeUnsortedIndex, "event log must be sorted chronologically").
				WithContext("entity", log.Entity).
				WithContext("row", i)
		}
	}
	return nil
}

func (g *Generator) resolveStop(stop offset.Offset, first int64) int64 {
	switch v := stop.(type) {
	case nil:
		return g.lastIndex
	case offset.Position:
		if int(v) < g.log.Len() {
			return g.log.Events[v].Index
		}
		return g.lastIndex
	case offset.Distance:
		return v.AddTo(first)
	case offset.Point:
		return v.UnixNano()
	}
	return g.lastIndex
}

func (g *Generator) resolveStart(start offset.Offset, first int64) {
	g.rows = g.log.Events
	g.cursor, g.cursorValid = first, true

	var point int64
	switch v := start.(type) {
	case nil:
		return
	case offset.Position:
		g.dropRows(int(v))
		return
	case offset.Distance:
		point = v.AddTo(first)
	case offset.Point:
		point = v.UnixNano()
		if point == first {
			return
		}
	}

	g.rows = g.rows[searchIndex(g.rows, point):]
	g.cursor = point
	if g.step.Kind() == offset.KindPosition {
		g.anchor()
	}
}

// Next advances to the next window.
func (g *Generator) Next() bool {
	g.current = nil
	if g.done {
		return false
	}

	for g.cursorValid && g.cursor <= g.stop {
		if len(g.rows) == 0 && g.dropEmpty {
			break
		}

		start := g.cursor
		events, stop := g.applySize()
		g.applyStep()

		if len(events) == 0 && g.dropEmpty {
			continue
		}

		g.sliceNumber++
		g.current = &Window{
			Entity: g.log.Entity,
			Events: events,
			Context: Context{
				SliceNumber:  g.sliceNumber,
				Start:        g.log.At(start),
				Stop:         g.log.At(stop),
				NextStart:    g.log.At(g.cursor),
				HasNextStart: g.cursorValid,
				Entity:       g.log.Entity,
			},
		}
		return true
	}

	g.done = true
	return false
}

// Window returns the current window, or nil before the first call to Next
// and after iteration ends.
func (g *Generator) Window() *Window {
	return g.current
}

// Err always returns nil: every failure is reported by New.
func (g *Generator) Err() error {
	return nil
}

// applySize cuts the window starting at the cursor and returns its events
// and stop value.
func (g *Generator) applySize() ([]model.Event, int64) {
	switch v := g.size.(type) {
	case offset.Position:
		n := int(v)
		if n < len(g.rows) {
			return g.rows[:n], g.rows[n].Index
		}
		return g.rows, g.lastIndex
	case offset.Distance:
		end := v.AddTo(g.cursor)
		// Events exactly at end belong to the next window.
		return g.rows[:searchIndex(g.rows, end)], end
	}
	return nil, g.cursor
}

// applyStep moves the cursor and drops the events before it.
func (g *Generator) applyStep() {
	switch v := g.step.(type) {
	case offset.Position:
		g.dropRows(int(v))
	case offset.Distance:
		next := v.AddTo(g.cursor)
		if next <= g.cursor {
			// Saturated at the end of the index range.
			g.rows = g.rows[len(g.rows):]
			g.cursorValid = false
			return
		}
		g.cursor = next
		g.rows = g.rows[searchIndex(g.rows, g.cursor):]
	}
}

func (g *Generator) dropRows(n int) {
	if n >= len(g.rows) {
		g.rows = g.rows[len(g.rows):]
	} else {
		g.rows = g.rows[n:]
	}
	g.anchor()
}

// anchor moves the cursor onto the first remaining event.
func (g *Generator) anchor() {
	if len(g.rows) == 0 {
		g.cursorValid = false
		return
	}
	g.cursor, g.cursorValid = g.rows[0].Index, true
}

// searchIndex returns the position of the first event with index >= v.
func searchIndex(rows []model.Event, v int64) int {
	return sort.Search(len(rows), func(i int) bool {
		return rows[i].Index >= v
	})
}

func withParam(err error, param string) error {
	if lfErr, ok := err.(*lferrors.Error); ok {
		return lfErr.WithContext("param", param)
	}
	return err
}

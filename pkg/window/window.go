// Package window carves an entity's event log into bounded windows.
package window

import (
	"fmt"
	"strings"

	"github.com/logflow/labelflow/internal/model"
)

// Context is the metadata attached to a window when it is produced.
type Context struct {
	// SliceNumber is 1-based and counts yielded windows only.
	SliceNumber int

	// Start and Stop bound the window. Stop is exclusive except when a
	// row-count window runs past the end of the log, in which case it is
	// the log's last index.
	Start model.Index
	Stop  model.Index

	// NextStart is where the following window begins. HasNextStart is
	// false once the log is exhausted by a row-count step, and for
	// column-grouped windows.
	NextStart    model.Index
	HasNextStart bool

	Entity string

	// Group holds the column value for windows produced by ByColumn.
	Group any
}

// String renders the context one attribute per line.
func (c Context) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "slice_number  %d\n", c.SliceNumber)
	fmt.Fprintf(&sb, "slice_start   %s\n", c.Start)
	fmt.Fprintf(&sb, "slice_stop    %s\n", c.Stop)
	if c.HasNextStart {
		fmt.Fprintf(&sb, "next_start    %s\n", c.NextStart)
	}
	if c.Group != nil {
		fmt.Fprintf(&sb, "group         %v\n", c.Group)
	}
	if c.Entity != "" {
		fmt.Fprintf(&sb, "entity        %s\n", c.Entity)
	}
	return sb.String()
}

// Window is a contiguous run of events from one log. Events share memory
// with the log and must not be modified.
type Window struct {
	Entity  string
	Events  []model.Event
	Context Context
}

// Len returns the number of events in the window.
func (w *Window) Len() int {
	return len(w.Events)
}

// Empty reports whether the window holds no events.
func (w *Window) Empty() bool {
	return len(w.Events) == 0
}

// Values returns a column's values in event order. Missing fields are nil.
func (w *Window) Values(column string) []any {
	out := make([]any, len(w.Events))
	for i, e := range w.Events {
		out[i] = e.Fields[column]
	}
	return out
}

// Iterator is a pull-based sequence of windows.
type Iterator interface {
	// Next advances to the next window and reports whether there is one.
	Next() bool

	// Window returns the current window.
	Window() *Window

	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Collect drains an iterator.
func Collect(it Iterator) ([]*Window, error) {
	var out []*Window
	for it.Next() {
		out = append(out, it.Window())
	}
	return out, it.Err()
}

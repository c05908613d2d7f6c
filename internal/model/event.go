// Package model defines core data structures for labelflow.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// IndexKind tells how index values along an event log are interpreted.
type IndexKind uint8

const (
	// IndexPosition indexes events by an integer position.
	IndexPosition IndexKind = iota
	// IndexTime indexes events by a timestamp stored as nanoseconds since Unix epoch.
	IndexTime
)

// String returns the index kind name.
func (k IndexKind) String() string {
	if k == IndexTime {
		return "time"
	}
	return "position"
}

// Index is a point along an event log.
type Index struct {
	Kind  IndexKind
	Value int64
}

// TimeIndex returns a time-based index value.
func TimeIndex(t time.Time) Index {
	return Index{Kind: IndexTime, Value: t.UnixNano()}
}

// PositionIndex returns a position-based index value.
func PositionIndex(n int64) Index {
	return Index{Kind: IndexPosition, Value: n}
}

// Time returns the index as a UTC time. Only meaningful for IndexTime.
func (i Index) Time() time.Time {
	return time.Unix(0, i.Value).UTC()
}

// String renders the index value.
func (i Index) String() string {
	if i.Kind == IndexTime {
		return i.Time().Format("2006-01-02 15:04:05")
	}
	return strconv.FormatInt(i.Value, 10)
}

// Event is a single record in an entity's event log.
// Fields holds the payload columns by name; values are the Go types
// produced by the loaders (string, int64, float64, bool, time.Time or nil).
type Event struct {
	// Index is the event's position or timestamp in nanoseconds.
	Index int64

	// IndexNull marks an event whose index value was missing in the input.
	IndexNull bool

	Fields map[string]any
}

// Field returns a payload value by name.
func (e Event) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// EventLog is the ordered event history of one entity.
type EventLog struct {
	Entity    string
	IndexKind IndexKind
	Events    []Event
}

// Len returns the number of events.
func (l *EventLog) Len() int {
	return len(l.Events)
}

// IsTimeIndex reports whether index values are timestamps.
func (l *EventLog) IsTimeIndex() bool {
	return l.IndexKind == IndexTime
}

// At wraps a raw index value in the log's index kind.
func (l *EventLog) At(v int64) Index {
	return Index{Kind: l.IndexKind, Value: v}
}

// String summarises the log for diagnostics.
func (l *EventLog) String() string {
	return fmt.Sprintf("EventLog(entity=%s, events=%d, index=%s)", l.Entity, len(l.Events), l.IndexKind)
}

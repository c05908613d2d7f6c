package model

import (
	"sort"
	"strconv"
)

// Row is one line of the input table before grouping.
type Row struct {
	Entity string
	Event
}

// Table is the raw event table handed over by the loaders.
type Table struct {
	// EntityColumn names the grouping column.
	EntityColumn string

	// TimeIndex names the index column.
	TimeIndex string

	// IndexKind applies to every row.
	IndexKind IndexKind

	// Columns lists the payload column names in input order.
	Columns []string

	Rows []Row
}

// NewTable returns an empty table.
func NewTable(entityColumn, timeIndex string, kind IndexKind, columns ...string) *Table {
	return &Table{
		EntityColumn: entityColumn,
		TimeIndex:    timeIndex,
		IndexKind:    kind,
		Columns:      columns,
	}
}

// Append adds a row.
func (t *Table) Append(entity string, index int64, fields map[string]any) {
	t.Rows = append(t.Rows, Row{Entity: entity, Event: Event{Index: index, Fields: fields}})
}

// AppendNull adds a row whose index value is missing.
func (t *Table) AppendNull(entity string, fields map[string]any) {
	t.Rows = append(t.Rows, Row{Entity: entity, Event: Event{IndexNull: true, Fields: fields}})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether a payload column exists.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// GroupBy partitions the table into one EventLog per entity.
// Rows keep their table order within an entity; entities are returned in
// ascending key order, comparing numerically when both keys are integers.
func (t *Table) GroupBy() []*EventLog {
	byEntity := make(map[string]*EventLog)
	var keys []string

	for _, row := range t.Rows {
		log, ok := byEntity[row.Entity]
		if !ok {
			log = &EventLog{Entity: row.Entity, IndexKind: t.IndexKind}
			byEntity[row.Entity] = log
			keys = append(keys, row.Entity)
		}
		log.Events = append(log.Events, row.Event)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return EntityLess(keys[i], keys[j])
	})

	logs := make([]*EventLog, len(keys))
	for i, k := range keys {
		logs[i] = byEntity[k]
	}
	return logs
}

// EntityLess orders entity keys, numerically when both parse as integers.
func EntityLess(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

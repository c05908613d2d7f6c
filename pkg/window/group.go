package window

import (
	"fmt"

	"github.com/logflow/labelflow/internal/model"
)

// GroupIterator yields one window per distinct value of a column.
type GroupIterator struct {
	log     *model.EventLog
	groups  []group
	pos     int
	current *Window
}

type group struct {
	value  any
	events []model.Event
}

// ByColumn groups a log by the value of column. Groups appear in the order
// their first event appears; events with a missing value are left out.
// The log must already satisfy ValidateLog.
func ByColumn(log *model.EventLog, column string) (*GroupIterator, error) {
	if err := ValidateLog(log); err != nil {
		return nil, err
	}

	it := &GroupIterator{log: log}
	seen := make(map[string]int)
	for _, e := range log.Events {
		v := e.Fields[column]
		if v == nil {
			continue
		}
		key := fmt.Sprintf("%T:%v", v, v)
		i, ok := seen[key]
		if !ok {
			i = len(it.groups)
			seen[key] = i
			it.groups = append(it.groups, group{value: v})
		}
		it.groups[i].events = append(it.groups[i].events, e)
	}
	return it, nil
}

// Next advances to the next group.
func (it *GroupIterator) Next() bool {
	it.current = nil
	if it.pos >= len(it.groups) {
		return false
	}
	g := it.groups[it.pos]
	it.pos++

	it.current = &Window{
		Entity: it.log.Entity,
		Events: g.events,
		Context: Context{
			SliceNumber: it.pos,
			Start:       it.log.At(g.events[0].Index),
			Stop:        it.log.At(g.events[len(g.events)-1].Index),
			Entity:      it.log.Entity,
			Group:       g.value,
		},
	}
	return true
}

// Window returns the current group window.
func (it *GroupIterator) Window() *Window {
	return it.current
}

// Err always returns nil.
func (it *GroupIterator) Err() error {
	return nil
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_GroupBy(t *testing.T) {
	table := NewTable("id", "time", IndexPosition, "amount")
	table.Append("10", 0, map[string]any{"amount": 1.0})
	table.Append("2", 0, map[string]any{"amount": 2.0})
	table.AppendNull("10", map[string]any{"amount": 3.0})
	table.Append("b", 0, nil)
	table.Append("2", 1, map[string]any{"amount": 4.0})

	logs := table.GroupBy()
	require.Len(t, logs, 3)
	assert.Equal(t, "2", logs[0].Entity)
	assert.Equal(t, "10", logs[1].Entity)
	assert.Equal(t, "b", logs[2].Entity)

	assert.Equal(t, 2, logs[0].Len())
	assert.Equal(t, 4.0, logs[0].Events[1].Fields["amount"])
	assert.True(t, logs[1].Events[1].IndexNull)
	assert.Equal(t, IndexPosition, logs[1].IndexKind)
}

func TestEntityLess(t *testing.T) {
	assert.True(t, EntityLess("2", "10"))
	assert.True(t, EntityLess("10", "a"))
	assert.False(t, EntityLess("b", "a"))
}

func TestIndex_String(t *testing.T) {
	at := time.Date(2014, 1, 1, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, "2014-01-01 08:30:00", TimeIndex(at).String())
	assert.True(t, at.Equal(TimeIndex(at).Time()))
	assert.Equal(t, "7", PositionIndex(7).String())
	assert.True(t, table(t).HasColumn("amount"))
	assert.False(t, table(t).HasColumn("id"))
}

func table(t *testing.T) *Table {
	t.Helper()
	return NewTable("id", "time", IndexTime, "amount")
}

package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		"op": "u",
		"ts": "2024-03-15T10:30:00Z",
		"before": {"id": "1", "status": "old"},
		"after": {"id": "1", "status": "new"},
		"source": {"connector": "postgres", "db": "fleet", "table": "activities"}
	}`)

	ev, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, ev.Operation)
	assert.Equal(t, "fleet", ev.Source.Database)
	assert.Equal(t, "new", ev.After["status"])
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("{nope"))
	assert.Error(t, err)
}

func TestRowSelection(t *testing.T) {
	before := map[string]interface{}{"state": "before"}
	after := map[string]interface{}{"state": "after"}

	for _, op := range []Operation{OpCreate, OpRead, OpUpdate} {
		ev := &ChangeEvent{Operation: op, Before: before, After: after}
		assert.Equal(t, after, ev.Row(), "op %s", op)
	}

	del := &ChangeEvent{Operation: OpDelete, Before: before}
	assert.Equal(t, before, del.Row())
}

func TestDigestStableAndBounded(t *testing.T) {
	a := Digest([]byte("payload"))
	b := Digest([]byte("payload"))
	c := Digest([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

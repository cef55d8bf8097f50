package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/enrichment"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
)

func sampleToolEvent() *deserializer.ToolEvent {
	return &deserializer.ToolEvent{
		Tool:            eventtype.ToolTacticalRMM,
		ExternalAgentID: "agent-1",
		SourceEventType: "script_run",
		ToolEventID:     "100",
		OccurredAtMs:    1710498600000, // 2024-03-15T10:30:00Z
		TimestampKnown:  true,
		Operation:       cdc.OpCreate,
	}
}

func TestCompositeKey(t *testing.T) {
	ev := New(sampleToolEvent(), eventtype.ScriptExecuted, enrichment.Context{})

	assert.Equal(t,
		"tactical-rmm:2024-03-15:SCRIPT_EXECUTED:1710498600000:100",
		ev.CompositeKey())
	// Same logical event, same key.
	assert.Equal(t, ev.CompositeKey(), ev.CompositeKey())
}

func TestDayBucketUnknownTimestamp(t *testing.T) {
	te := sampleToolEvent()
	te.TimestampKnown = false
	te.OccurredAtMs = 0

	ev := New(te, eventtype.ScriptExecuted, enrichment.Context{})
	assert.Equal(t, "unknown", ev.DayBucket())
	assert.Contains(t, ev.CompositeKey(), ":unknown:")
}

func TestVisibility(t *testing.T) {
	visible := New(sampleToolEvent(), eventtype.ScriptExecuted, enrichment.Context{})
	assert.True(t, visible.Visible)

	noise := New(sampleToolEvent(), eventtype.DeviceCheckedIn, enrichment.Context{})
	assert.False(t, noise.Visible)

	unknown := New(sampleToolEvent(), eventtype.Unknown, enrichment.Context{})
	assert.False(t, unknown.Visible)
}

func TestPublishKeyPrefersMachineID(t *testing.T) {
	withMachine := New(sampleToolEvent(), eventtype.ScriptExecuted,
		enrichment.Context{MachineID: "m-7"})
	assert.Equal(t, "m-7", withMachine.PublishKey())

	withoutMachine := New(sampleToolEvent(), eventtype.ScriptExecuted, enrichment.Context{})
	assert.Equal(t, "agent-1", withoutMachine.PublishKey())
}

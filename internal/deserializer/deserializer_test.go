package deserializer

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fleetEvent(op cdc.Operation, row map[string]interface{}) *cdc.ChangeEvent {
	ev := &cdc.ChangeEvent{Operation: op, Timestamp: "2024-03-15T10:30:00Z"}
	if op == cdc.OpDelete {
		ev.Before = row
	} else {
		ev.After = row
	}
	return ev
}

func TestFleetDeserialize(t *testing.T) {
	d := NewFleetMDM(testLogger())

	ev := fleetEvent(cdc.OpCreate, map[string]interface{}{
		"host_uuid":     "agent-1",
		"activity_type": "Host Enrolled",
		"id":            float64(42),
		"details":       "enrolled via DEP",
		"created_at":    "2024-03-15T10:30:00Z",
	})

	out, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.Equal(t, "fleet-mdm", out.Tool)
	assert.Equal(t, "agent-1", out.ExternalAgentID)
	assert.Equal(t, "host_enrolled", out.SourceEventType)
	assert.Equal(t, "42", out.ToolEventID)
	assert.Equal(t, "enrolled via DEP", out.Message)
	assert.True(t, out.TimestampKnown)
	assert.Equal(t, int64(1710498600000), out.OccurredAtMs)
}

func TestFleetDeserializeIsIdempotent(t *testing.T) {
	d := NewFleetMDM(testLogger())
	ev := fleetEvent(cdc.OpUpdate, map[string]interface{}{
		"host_uuid":     "agent-1",
		"activity_type": "ran_script",
		"id":            "7",
		"created_at":    "2024-03-15T10:30:00Z",
	})

	first, err := d.Deserialize(ev)
	require.NoError(t, err)
	second, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFleetMissingAgentIDIsInvalid(t *testing.T) {
	d := NewFleetMDM(testLogger())
	ev := fleetEvent(cdc.OpCreate, map[string]interface{}{
		"activity_type": "host_enrolled",
		"id":            "1",
	})

	_, err := d.Deserialize(ev)
	var invalidErr *InvalidMessageError
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Reason, "host_uuid")
}

func TestDeleteReadsBeforePayload(t *testing.T) {
	d := NewFleetMDM(testLogger())
	ev := &cdc.ChangeEvent{
		Operation: cdc.OpDelete,
		Before: map[string]interface{}{
			"host_uuid":     "agent-9",
			"activity_type": "host_offline",
			"id":            "5",
			"created_at":    "2024-03-15T10:30:00Z",
		},
		// After intentionally absent on deletes.
	}

	out, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.Equal(t, "agent-9", out.ExternalAgentID)
	assert.Equal(t, cdc.OpDelete, out.Operation)
}

func TestTacticalDeserializeSummarizesResult(t *testing.T) {
	d := NewTacticalRMM(testLogger())

	longOutput := strings.Repeat("x", 5000)
	result := map[string]interface{}{
		"stdout":         longOutput,
		"stderr":         "",
		"retcode":        float64(0),
		"execution_time": 1.25,
	}

	ev := &cdc.ChangeEvent{
		Operation: cdc.OpCreate,
		After: map[string]interface{}{
			"agent_id":       "tac-agent-3",
			"type":           "Script Run",
			"id":             "100",
			"script_results": result,
			"time":           "2024-03-15 10:30:00",
		},
	}

	out, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.Equal(t, "tactical-rmm", out.Tool)
	assert.Equal(t, "script_run", out.SourceEventType)
	assert.LessOrEqual(t, len(out.Summary), 1024)
	assert.True(t, strings.HasSuffix(out.Summary, "..."))
	// The original result travels downstream unmodified.
	assert.Equal(t, longOutput, out.ResultPayload["stdout"])
}

func TestTacticalTimestampParseFailureDegrades(t *testing.T) {
	d := NewTacticalRMM(testLogger())
	ev := &cdc.ChangeEvent{
		Operation: cdc.OpCreate,
		After: map[string]interface{}{
			"agent_id": "tac-agent-3",
			"type":     "cmd_run",
			"id":       "101",
			"time":     "garbage",
		},
	}

	out, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.False(t, out.TimestampKnown)
	assert.Zero(t, out.OccurredAtMs)
}

func TestMeshDeserialize(t *testing.T) {
	d := NewMeshCentral(testLogger())
	ev := &cdc.ChangeEvent{
		Operation: cdc.OpCreate,
		After: map[string]interface{}{
			"node_id": "node//abc",
			"action":  "relaylog",
			"_id":     "ev-1",
			"msg":     "remote desktop session",
			"time":    float64(1710498600000),
		},
	}

	out, err := d.Deserialize(ev)
	require.NoError(t, err)
	assert.Equal(t, "meshcentral", out.Tool)
	assert.Equal(t, "node//abc", out.ExternalAgentID)
	assert.Equal(t, int64(1710498600000), out.OccurredAtMs)
}

func TestMeshMissingNodeIDIsInvalid(t *testing.T) {
	d := NewMeshCentral(testLogger())
	ev := &cdc.ChangeEvent{
		Operation: cdc.OpCreate,
		After: map[string]interface{}{
			"action": "relaylog",
			"_id":    "ev-2",
		},
	}

	_, err := d.Deserialize(ev)
	var invalidErr *InvalidMessageError
	require.ErrorAs(t, err, &invalidErr)
}

func TestNormalizeEventType(t *testing.T) {
	assert.Equal(t, "host_enrolled", normalizeEventType("Host Enrolled"))
	assert.Equal(t, "script_run", normalizeEventType("Script-Run"))
	assert.Equal(t, "session_end", normalizeEventType("session.end"))
	assert.Equal(t, "a_b", normalizeEventType("A  -  B"))
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(testLogger())

	for _, mt := range []MessageType{FleetMDMEvent, TacticalRMMEvent, MeshCentralEvent} {
		d, err := r.Resolve(mt)
		require.NoError(t, err, "message type %s", mt)
		assert.NotNil(t, d)
	}
}

func TestRegistryUnknownHeaderNeverDefaults(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Resolve("SOME_NEW_TOOL_EVENT")
	var unknownErr *ErrUnknownMessageType
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, MessageType("SOME_NEW_TOOL_EVENT"), unknownErr.MessageType)
}

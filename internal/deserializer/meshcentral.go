package deserializer

import (
	"log/slog"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
	"github.com/google/uuid"
)

// MeshCentral deserializes change events from the MeshCentral events
// collection. Activity rows do not carry the node id natively; the stream
// join stage injects node_id/host_id before the row reaches this point, so
// from here the joined source is indistinguishable from the others.
type MeshCentral struct {
	logger *slog.Logger
}

// NewMeshCentral creates the MeshCentral deserializer.
func NewMeshCentral(logger *slog.Logger) *MeshCentral {
	return &MeshCentral{logger: logger.With("component", "mesh-deserializer")}
}

// Tool returns the tool identifier.
func (d *MeshCentral) Tool() string { return eventtype.ToolMeshCentral }

// Deserialize extracts a tool event from a MeshCentral event row.
func (d *MeshCentral) Deserialize(ev *cdc.ChangeEvent) (*ToolEvent, error) {
	row := ev.Row()
	if row == nil {
		return nil, invalid(d.Tool(), "missing row payload for op %q", ev.Operation)
	}

	agentID, ok := stringField(row, "node_id")
	if !ok {
		// Unmatched join output omits the node id entirely; enrichment
		// depends on it, so this is a rejection rather than a silent skip.
		return nil, invalid(d.Tool(), "missing node_id")
	}

	action, ok := stringField(row, "action")
	if !ok {
		return nil, invalid(d.Tool(), "missing action")
	}

	eventID, ok := stringField(row, "_id")
	if !ok {
		eventID = uuid.New().String()
	}

	out := &ToolEvent{
		Tool:            d.Tool(),
		ExternalAgentID: agentID,
		SourceEventType: normalizeEventType(action),
		ToolEventID:     eventID,
		Operation:       ev.Operation,
	}

	if msg, ok := stringField(row, "msg"); ok {
		out.Message = msg
		out.Summary = boundedSummary(msg)
	}

	out.OccurredAtMs, out.TimestampKnown = rowTimestamp(row, "time", ev)
	if !out.TimestampKnown {
		d.logger.Warn("unparseable timestamp, degrading to unknown",
			"tool", d.Tool(), "event_id", eventID)
	}
	return out, nil
}

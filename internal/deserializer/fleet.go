package deserializer

import (
	"log/slog"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/timeparse"
	"github.com/google/uuid"
)

// FleetMDM deserializes change events from the Fleet MDM activities table.
type FleetMDM struct {
	logger *slog.Logger
}

// NewFleetMDM creates the Fleet MDM deserializer.
func NewFleetMDM(logger *slog.Logger) *FleetMDM {
	return &FleetMDM{logger: logger.With("component", "fleet-deserializer")}
}

// Tool returns the tool identifier.
func (d *FleetMDM) Tool() string { return eventtype.ToolFleetMDM }

// Deserialize extracts a tool event from a Fleet activity row.
func (d *FleetMDM) Deserialize(ev *cdc.ChangeEvent) (*ToolEvent, error) {
	row := ev.Row()
	if row == nil {
		return nil, invalid(d.Tool(), "missing row payload for op %q", ev.Operation)
	}

	agentID, ok := stringField(row, "host_uuid")
	if !ok {
		return nil, invalid(d.Tool(), "missing host_uuid")
	}

	activityType, ok := stringField(row, "activity_type")
	if !ok {
		return nil, invalid(d.Tool(), "missing activity_type")
	}

	eventID, ok := stringField(row, "id")
	if !ok {
		eventID = uuid.New().String()
	}

	out := &ToolEvent{
		Tool:            d.Tool(),
		ExternalAgentID: agentID,
		SourceEventType: normalizeEventType(activityType),
		ToolEventID:     eventID,
		Operation:       ev.Operation,
	}

	if msg, ok := stringField(row, "details"); ok {
		out.Message = msg
		out.Summary = boundedSummary(msg)
	}

	out.OccurredAtMs, out.TimestampKnown = rowTimestamp(row, "created_at", ev)
	if !out.TimestampKnown {
		d.logger.Warn("unparseable timestamp, degrading to unknown",
			"tool", d.Tool(), "event_id", eventID)
	}
	return out, nil
}

// rowTimestamp resolves the event time from the row field, falling back to
// the envelope timestamp when the row carries none.
func rowTimestamp(row map[string]interface{}, field string, ev *cdc.ChangeEvent) (int64, bool) {
	if v, ok := row[field]; ok {
		if ms, ok := timeparse.FromValue(v); ok {
			return ms, true
		}
		return 0, false
	}
	if ev.Timestamp != "" {
		return timeparse.ToMillis(ev.Timestamp)
	}
	if ev.TsMs > 0 {
		return ev.TsMs, true
	}
	return 0, false
}

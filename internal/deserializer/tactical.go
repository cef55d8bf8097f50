package deserializer

import (
	"encoding/json"
	"log/slog"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
	"github.com/google/uuid"
)

// maxSummaryBytes bounds the display summary derived from structured result
// payloads. The payload itself is passed downstream untouched.
const maxSummaryBytes = 1024

// TacticalRMM deserializes change events from the Tactical RMM agent
// history table.
type TacticalRMM struct {
	logger *slog.Logger
}

// NewTacticalRMM creates the Tactical RMM deserializer.
func NewTacticalRMM(logger *slog.Logger) *TacticalRMM {
	return &TacticalRMM{logger: logger.With("component", "tactical-deserializer")}
}

// Tool returns the tool identifier.
func (d *TacticalRMM) Tool() string { return eventtype.ToolTacticalRMM }

// Deserialize extracts a tool event from an agent history row.
func (d *TacticalRMM) Deserialize(ev *cdc.ChangeEvent) (*ToolEvent, error) {
	row := ev.Row()
	if row == nil {
		return nil, invalid(d.Tool(), "missing row payload for op %q", ev.Operation)
	}

	agentID, ok := stringField(row, "agent_id")
	if !ok {
		return nil, invalid(d.Tool(), "missing agent_id")
	}

	historyType, ok := stringField(row, "type")
	if !ok {
		return nil, invalid(d.Tool(), "missing history type")
	}

	eventID, ok := stringField(row, "id")
	if !ok {
		eventID = uuid.New().String()
	}

	out := &ToolEvent{
		Tool:            d.Tool(),
		ExternalAgentID: agentID,
		SourceEventType: normalizeEventType(historyType),
		ToolEventID:     eventID,
		Operation:       ev.Operation,
	}

	if cmd, ok := stringField(row, "command"); ok {
		out.Message = cmd
	}

	// Script and command runs carry a structured result object. It travels
	// downstream as-is; only the display summary is bounded.
	if result, ok := row["script_results"].(map[string]interface{}); ok {
		out.ResultPayload = result
		out.Summary = summarizeResult(result)
	} else if out.Message != "" {
		out.Summary = boundedSummary(out.Message)
	}

	out.OccurredAtMs, out.TimestampKnown = rowTimestamp(row, "time", ev)
	if !out.TimestampKnown {
		d.logger.Warn("unparseable timestamp, degrading to unknown",
			"tool", d.Tool(), "event_id", eventID)
	}
	return out, nil
}

// summarizeResult renders a structured result payload into a bounded display
// string, preferring stdout/stderr over a raw JSON dump.
func summarizeResult(result map[string]interface{}) string {
	if stdout, ok := result["stdout"].(string); ok && stdout != "" {
		return boundedSummary(stdout)
	}
	if stderr, ok := result["stderr"].(string); ok && stderr != "" {
		return boundedSummary(stderr)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return boundedSummary(string(data))
}

func boundedSummary(s string) string {
	if len(s) <= maxSummaryBytes {
		return s
	}
	return s[:maxSummaryBytes-3] + "..."
}

// Package deserializer extracts tool-specific typed events from raw change
// envelopes. One implementation per integrated tool; the registry selects
// the implementation from the routing header carried on the bus.
package deserializer

import (
	"fmt"
	"strings"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
)

// MessageType is the routing header value identifying a deserializer family.
type MessageType string

const (
	FleetMDMEvent        MessageType = "FLEET_MDM_EVENT"
	TacticalRMMEvent     MessageType = "TACTICAL_RMM_EVENT"
	MeshCentralEvent     MessageType = "MESHCENTRAL_EVENT"
	MeshCentralHostEvent MessageType = "MESHCENTRAL_HOST_EVENT"
)

// ToolEvent is the tool-specific projection of a change envelope. It is a
// pure function of its input: deserializing the same envelope twice yields
// an identical value.
type ToolEvent struct {
	Tool            string
	ExternalAgentID string
	SourceEventType string
	ToolEventID     string
	Message         string
	Summary         string
	ResultPayload   map[string]interface{}
	OccurredAtMs    int64
	TimestampKnown  bool
	Operation       cdc.Operation
}

// InvalidMessageError reports an envelope that cannot yield a valid tool
// event. It is terminal for the message: logged, dropped, never retried.
type InvalidMessageError struct {
	Tool   string
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid %s message: %s", e.Tool, e.Reason)
}

func invalid(tool, format string, args ...interface{}) error {
	return &InvalidMessageError{Tool: tool, Reason: fmt.Sprintf(format, args...)}
}

// Deserializer turns a change envelope into a tool event, or fails with an
// *InvalidMessageError when required fields are absent. Implementations
// must not produce a partially populated event.
type Deserializer interface {
	Tool() string
	Deserialize(ev *cdc.ChangeEvent) (*ToolEvent, error)
}

// stringField pulls a non-empty string out of an opaque row map.
func stringField(row map[string]interface{}, key string) (string, bool) {
	v, ok := row[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		// Numeric ids decode as float64; render them without a fraction.
		if f, isNum := v.(float64); isNum {
			return trimFloat(f), true
		}
		return "", false
	}
	return s, true
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}

// normalizeEventType collapses tool-specific casing and punctuation
// variants onto the documented vocabulary: lowercased, with spaces, dots
// and dashes folded to underscores.
func normalizeEventType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

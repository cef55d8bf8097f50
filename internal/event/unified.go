// Package event defines the canonical unified event produced once per
// successfully processed change event. A unified event is never mutated
// after creation; each destination projects it independently.
package event

import (
	"fmt"
	"time"

	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/cdc"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/deserializer"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/enrichment"
	"github.com/Praesto-Pro/openframe-oss-tenant-sub004/internal/eventtype"
)

// UnifiedEvent combines the tool event, its unified type and the resolved
// context.
type UnifiedEvent struct {
	Tool            string
	Type            eventtype.Type
	ExternalAgentID string
	SourceEventType string
	ToolEventID     string
	Message         string
	Summary         string
	ResultPayload   map[string]interface{}
	OccurredAtMs    int64
	TimestampKnown  bool
	Operation       cdc.Operation
	Context         enrichment.Context
	Visible         bool
}

// invisibleTypes are internal/noise unified types that are durable-logged
// for audit but never surfaced on the outbound bus.
var invisibleTypes = map[eventtype.Type]bool{
	eventtype.DeviceCheckedIn: true,
	eventtype.Unknown:         true,
}

// New builds a unified event from the pipeline stages' outputs.
func New(te *deserializer.ToolEvent, t eventtype.Type, ctx enrichment.Context) *UnifiedEvent {
	return &UnifiedEvent{
		Tool:            te.Tool,
		Type:            t,
		ExternalAgentID: te.ExternalAgentID,
		SourceEventType: te.SourceEventType,
		ToolEventID:     te.ToolEventID,
		Message:         te.Message,
		Summary:         te.Summary,
		ResultPayload:   te.ResultPayload,
		OccurredAtMs:    te.OccurredAtMs,
		TimestampKnown:  te.TimestampKnown,
		Operation:       te.Operation,
		Context:         ctx,
		Visible:         !invisibleTypes[t],
	}
}

// CompositeKey is the durable-log partition key:
// tool:dayBucket:eventType:timestampMillis:toolEventId. The same logical
// event always derives the same key, so durable-log writes are idempotent.
func (e *UnifiedEvent) CompositeKey() string {
	return fmt.Sprintf("%s:%s:%s:%d:%s",
		e.Tool, e.DayBucket(), e.Type, e.OccurredAtMs, e.ToolEventID)
}

// DayBucket returns the UTC day the event occurred on, or "unknown" when the
// source timestamp could not be parsed.
func (e *UnifiedEvent) DayBucket() string {
	if !e.TimestampKnown {
		return "unknown"
	}
	return time.UnixMilli(e.OccurredAtMs).UTC().Format("2006-01-02")
}

// PublishKey is the outbound partition key, guaranteeing per-device ordering
// on the public topic. Falls back to the agent id when no machine context
// was resolved.
func (e *UnifiedEvent) PublishKey() string {
	if e.Context.MachineID != "" {
		return e.Context.MachineID
	}
	return e.ExternalAgentID
}

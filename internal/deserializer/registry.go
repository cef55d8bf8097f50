package deserializer

import (
	"fmt"
	"log/slog"
)

// ErrUnknownMessageType wraps a routing header that resolves to no known
// deserializer family. There is deliberately no default route: silently
// picking one would corrupt semantics, so the message is logged and dropped.
type ErrUnknownMessageType struct {
	MessageType MessageType
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.MessageType)
}

// Registry maps routing headers onto deserializers. The variant set is
// closed at construction; an unhandled tool is a visible gap here, not a
// runtime surprise.
type Registry struct {
	byType map[MessageType]Deserializer
}

// NewRegistry builds the registry over the full deserializer family. The
// host-event header is absent on purpose: host-activity records are consumed
// by the join stage and never reach the deserializer path on their own.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byType: map[MessageType]Deserializer{
			FleetMDMEvent:    NewFleetMDM(logger),
			TacticalRMMEvent: NewTacticalRMM(logger),
			MeshCentralEvent: NewMeshCentral(logger),
		},
	}
}

// Resolve returns the deserializer for a routing header.
func (r *Registry) Resolve(mt MessageType) (Deserializer, error) {
	d, ok := r.byType[mt]
	if !ok {
		return nil, &ErrUnknownMessageType{MessageType: mt}
	}
	return d, nil
}

// Package eventtype maps tool-native event type strings onto the closed
// unified vocabulary shared by every downstream consumer.
package eventtype

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Type is the unified event type. The set is closed; anything a tool emits
// that has no table entry maps to Unknown.
type Type string

const (
	DeviceEnrolled       Type = "DEVICE_ENROLLED"
	DeviceCheckedIn      Type = "DEVICE_CHECKED_IN"
	DeviceOffline        Type = "DEVICE_OFFLINE"
	PolicyApplied        Type = "POLICY_APPLIED"
	PolicyViolated       Type = "POLICY_VIOLATED"
	ScriptExecuted       Type = "SCRIPT_EXECUTED"
	CommandExecuted      Type = "COMMAND_EXECUTED"
	QueryExecuted        Type = "QUERY_EXECUTED"
	SoftwareInstalled    Type = "SOFTWARE_INSTALLED"
	AlertRaised          Type = "ALERT_RAISED"
	RemoteSessionStarted Type = "REMOTE_SESSION_STARTED"
	RemoteSessionEnded   Type = "REMOTE_SESSION_ENDED"
	FileTransferred      Type = "FILE_TRANSFERRED"
	Unknown              Type = "UNKNOWN"
)

// declaredTypes is the full set of valid unified types. Overlay entries are
// checked against it so a typo cannot mint a new type that slips past the
// downstream visibility policy.
var declaredTypes = map[Type]bool{
	DeviceEnrolled:       true,
	DeviceCheckedIn:      true,
	DeviceOffline:        true,
	PolicyApplied:        true,
	PolicyViolated:       true,
	ScriptExecuted:       true,
	CommandExecuted:      true,
	QueryExecuted:        true,
	SoftwareInstalled:    true,
	AlertRaised:          true,
	RemoteSessionStarted: true,
	RemoteSessionEnded:   true,
	FileTransferred:      true,
	Unknown:              true,
}

// Mapper is the immutable lookup table from tool:sourceEventType to the
// unified type. Built once at startup and shared by all workers without
// locking; never mutated afterwards.
type Mapper struct {
	table map[string]Type
}

// Overlay is the on-disk shape of an optional mapping overlay file. New
// upstream event types can be mapped operationally without a rebuild.
type Overlay struct {
	Mappings []struct {
		Tool      string `yaml:"tool"`
		EventType string `yaml:"event_type"`
		Unified   string `yaml:"unified"`
	} `yaml:"mappings"`
}

// NewMapper builds the lookup table from the compiled-in defaults.
func NewMapper() *Mapper {
	table := make(map[string]Type, len(defaultMappings))
	for k, v := range defaultMappings {
		table[k] = v
	}
	return &Mapper{table: table}
}

// NewMapperWithOverlay builds the table from defaults plus an overlay file.
// Overlay entries win over defaults.
func NewMapperWithOverlay(path string) (*Mapper, error) {
	m := NewMapper()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event type overlay: %w", err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse event type overlay: %w", err)
	}

	for _, entry := range overlay.Mappings {
		t := Type(entry.Unified)
		if !declaredTypes[t] {
			return nil, fmt.Errorf("event type overlay: %s:%s maps to undeclared type %q",
				entry.Tool, entry.EventType, entry.Unified)
		}
		m.table[key(entry.Tool, entry.EventType)] = t
	}
	return m, nil
}

// Map resolves a tool-native event type. Misses return Unknown by policy:
// a new upstream event type must never break ingestion, it only loses
// observability until the table is extended.
func (m *Mapper) Map(tool, sourceEventType string) Type {
	if t, ok := m.table[key(tool, sourceEventType)]; ok {
		return t
	}
	return Unknown
}

// Size returns the number of table entries.
func (m *Mapper) Size() int {
	return len(m.table)
}

func key(tool, sourceEventType string) string {
	return tool + ":" + sourceEventType
}

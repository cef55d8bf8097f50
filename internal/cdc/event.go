// Package cdc defines the change-data-capture envelope consumed from the
// inbound bus topics.
package cdc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Operation is the single-character operation code carried by the CDC source.
type Operation string

const (
	OpCreate Operation = "c"
	OpRead   Operation = "r"
	OpUpdate Operation = "u"
	OpDelete Operation = "d"
)

// Source identifies where a change event originated.
type Source struct {
	Connector string `json:"connector"`
	Name      string `json:"name"`
	Database  string `json:"db"`
	Table     string `json:"table"`
	TsMs      int64  `json:"ts_ms"`
}

// ChangeEvent is the raw row-level change envelope published by the CDC
// mechanism. Before/After are opaque column maps; which one carries the row
// depends on the operation.
type ChangeEvent struct {
	Before    map[string]interface{} `json:"before"`
	After     map[string]interface{} `json:"after"`
	Source    Source                 `json:"source"`
	Operation Operation              `json:"op"`
	Timestamp string                 `json:"ts"`
	TsMs      int64                  `json:"ts_ms"`
}

// Parse decodes a change event from its JSON wire form.
func Parse(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	return &ev, nil
}

// Row returns the payload that carries the row state for this operation:
// After for create/read/update, Before for delete (the source does not
// populate After on deletes).
func (e *ChangeEvent) Row() map[string]interface{} {
	if e.Operation == OpDelete {
		return e.Before
	}
	return e.After
}

// Digest returns a short SHA-256 digest of the raw payload, used when
// logging rejected messages without echoing the full row.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

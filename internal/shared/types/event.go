package types

import "time"

// EventType identifies what changed in the registry.
type EventType string

const (
	EventCreated       EventType = "created"
	EventRemoved       EventType = "removed"
	EventStatusChanged EventType = "status_changed"
	EventSwept         EventType = "swept"
)

// Event is published on the change feed after a mutation is durable.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	ID        string         `json:"id,omitempty"`
	Kind      Kind           `json:"kind,omitempty"`
	Status    *SigningStatus `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

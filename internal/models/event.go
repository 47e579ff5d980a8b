package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	Serial string `json:"serial,omitempty"`

	Type        EventType  `json:"type"`
	Level       EventLevel `json:"level"`
	Description string     `json:"description"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// EventType represents event types
type EventType string

const (
	// Camera events
	EventTypeConnect    EventType = "CONNECT"
	EventTypeDisconnect EventType = "DISCONNECT"
	EventTypeShutter    EventType = "SHUTTER"
	EventTypeBattery    EventType = "BATTERY"
	EventTypeError      EventType = "ERROR"

	// Provisioning events
	EventTypeProvision EventType = "PROVISION"
	EventTypeCOHNCheck EventType = "COHN_CHECK"

	// System events
	EventTypeAPICall EventType = "API_CALL"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// NewEvent creates an event log entry with a fresh ID and timestamp.
func NewEvent(eventType EventType, level EventLevel, serial, description string) *EventLog {
	return &EventLog{
		ID:          uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Serial:      serial,
		Type:        eventType,
		Level:       level,
		Description: description,
	}
}

// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/fan-controller/internal/logic"
)

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "fan-controller"

// EventTopic returns the topic carrying controller events of host.
func EventTopic(prefix, host string) string {
	return strings.Trim(prefix, "/") + "/" + host + "/events"
}

// SystemTopic returns the topic carrying daemon lifecycle events.
func SystemTopic(prefix string) string {
	return strings.Trim(prefix, "/") + "/system"
}

// Publisher publishes events to MQTT. Implementations are safe for use by
// several controllers at once.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType names a controller transition.
type EventType string

const (
	EventModeChange  EventType = "MODE_CHANGE"
	EventSpeedChange EventType = "SPEED_CHANGE"
)

// Event is a fan state transition on one host.
type Event struct {
	ID          string
	Timestamp   time.Time
	Host        string
	Type        EventType
	Mode        logic.Mode
	Speed       int
	Temperature int
	Reason      string // e.g. "threshold", "fallback", "shutdown"
}

// NewEvent returns an event with a fresh id.
func NewEvent(ts time.Time, host string, typ EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Host:      host,
		Type:      typ,
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Fan FanPayload `json:"fan"`
}

// FanPayload contains the controller event details.
type FanPayload struct {
	EventID     string `json:"event_id"`
	Timestamp   string `json:"timestamp"`
	Host        string `json:"host"`
	Event       string `json:"event"`
	Mode        string `json:"mode"`
	Speed       int    `json:"speed"`
	Temperature int    `json:"temperature"`
	Reason      string `json:"reason,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Fan: FanPayload{
			EventID:     event.ID,
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Host:        event.Host,
			Event:       string(event.Type),
			Mode:        string(event.Mode),
			Speed:       event.Speed,
			Temperature: event.Temperature,
			Reason:      event.Reason,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Package mqtt mirrors actuator lifecycle events to an MQTT broker for
// dashboards. Publishing is best-effort; the control path never depends on
// the broker.
package mqtt

import (
	"encoding/json"
	"time"
)

// Publisher publishes actuator events to a broker.
type Publisher interface {
	// Publish sends one event. Errors must not crash the process.
	Publish(event Event) error
	// Close disconnects from the broker.
	Close() error
}

// Event is one actuator lifecycle event to mirror.
type Event struct {
	Timestamp time.Time
	Actuator  string
	Kind      string // "transition", "fault", "divergence"
	Fields    map[string]any
}

// Payload is the MQTT message structure.
type Payload struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(event Event) ([]byte, error) {
	return json.Marshal(Payload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Kind,
		Fields:    event.Fields,
	})
}

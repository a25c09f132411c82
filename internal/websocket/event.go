package websocket

import "github.com/voicegrid/voicegrid/internal/types"

// EventType identifies the kind of event pushed to dashboard clients.
type EventType string

const (
	// Node events.
	EventNodeOnline        EventType = "node_online"
	EventNodeOffline       EventType = "node_offline"
	EventNodeStatusChanged EventType = "node_status_changed"
	EventNodeMetrics       EventType = "node_metrics"

	// System events.
	EventSystemStatus EventType = "system_status"
	EventAnnouncement EventType = "announcement"

	// Request events.
	EventRequestStart    EventType = "request_start"
	EventRequestComplete EventType = "request_complete"
	EventRequestError    EventType = "request_error"

	// Connection keepalive, sent without data or timestamp.
	EventPing EventType = "ping"
	EventPong EventType = "pong"
)

// Event is the envelope for every message pushed over a WebSocket
// connection. Timestamp is epoch seconds.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
}

// NewEvent wraps data in an Event stamped with the current time.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: types.Now()}
}

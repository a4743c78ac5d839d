package model

// Event type discriminators carried in every fan-out payload.
const (
	EventStateChanged     = "state_changed"
	EventEntityCreated    = "entity_created"
	EventEntityUpdated    = "entity_updated"
	EventEntityDeleted    = "entity_deleted"
	EventStreamAdvertised = "stream_advertised"
	EventStreamWithdrawn  = "stream_withdrawn"
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
)

// StateChangedEvent is published on every non-empty state transition.
// Timestamps are ISO-8601 with a trailing Z.
type StateChangedEvent struct {
	Type          string   `json:"type"`
	EntityID      string   `json:"entity_id"`
	EntitySlug    string   `json:"entity_slug"`
	EntityType    string   `json:"entity_type"`
	Path          string   `json:"path,omitempty"`
	PreviousState State    `json:"previous_state"`
	CurrentState  State    `json:"current_state"`
	ChangedKeys   []string `json:"changed_keys"`
	Source        string   `json:"source,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// LifecycleEvent announces entity create/update/delete. Update events
// carry only the changed metadata fields in Data.
type LifecycleEvent struct {
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntitySlug string         `json:"entity_slug"`
	EntityType string         `json:"entity_type"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// StreamEvent announces stream discovery and session lifecycle.
type StreamEvent struct {
	Type            string         `json:"type"`
	StreamID        string         `json:"stream_id"`
	StreamType      string         `json:"stream_type,omitempty"`
	PublisherID     string         `json:"publisher_id,omitempty"`
	Name            string         `json:"name,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	ConsumerID      string         `json:"consumer_id,omitempty"`
	TransportConfig map[string]any `json:"transport_config,omitempty"`
	Timestamp       string         `json:"timestamp"`
}

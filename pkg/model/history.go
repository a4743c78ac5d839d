package model

import "time"

// History verbosity levels, resolved per scope.
const (
	VerbosityMinimal  = "minimal"
	VerbosityStandard = "standard"
	VerbosityVerbose  = "verbose"
)

// Collection config scope types, most specific first.
const (
	ScopeDevice     = "device"
	ScopeEntityType = "entity_type"
	ScopeGlobal     = "global"
)

// StateHistory is one append-only record of a state transition.
// PreviousState is empty under standard verbosity and a full snapshot
// under verbose; minimal writes no row at all.
type StateHistory struct {
	Time          time.Time `json:"time" db:"time"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Slug          string    `json:"slug" db:"slug"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	Path          string    `json:"path,omitempty" db:"path"`
	State         State     `json:"state" db:"state"`
	PreviousState State     `json:"previous_state" db:"previous_state"`
	ChangedKeys   []string  `json:"changed_keys" db:"changed_keys"`
	Source        string    `json:"source,omitempty" db:"source"`
}

// SessionHistory is the durable record of a stream session.
type SessionHistory struct {
	SessionID        string         `json:"session_id" db:"session_id"`
	StreamID         string         `json:"stream_id" db:"stream_id"`
	StreamName       string         `json:"stream_name" db:"stream_name"`
	StreamType       string         `json:"stream_type" db:"stream_type"`
	PublisherID      string         `json:"publisher_id" db:"publisher_id"`
	ConsumerID       string         `json:"consumer_id" db:"consumer_id"`
	Protocol         string         `json:"protocol" db:"protocol"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds  *float64       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	BytesTransferred int64          `json:"bytes_transferred" db:"bytes_transferred"`
	Status           string         `json:"status" db:"status"`
	ErrorMessage     string         `json:"error_message,omitempty" db:"error_message"`
	Metadata         map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// CollectionConfig sets history verbosity for one scope. Lookup order
// is device, then entity_type, then global; default is standard.
type CollectionConfig struct {
	ID        string    `json:"id" db:"id"`
	ScopeType string    `json:"scope_type" db:"scope_type"`
	ScopeID   string    `json:"scope_id,omitempty" db:"scope_id"`
	Verbosity string    `json:"verbosity" db:"verbosity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Annotation tags a moment in a show ("opening night", "peak crowd").
type Annotation struct {
	ID          string         `json:"id" db:"id"`
	Time        time.Time      `json:"time" db:"time"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description,omitempty" db:"description"`
	Category    string         `json:"category" db:"category"`
	Tags        []string       `json:"tags" db:"tags"`
	Metadata    map[string]any `json:"metadata" db:"metadata"`
}

// ShowSummary aggregates the durable sink over a time window.
type ShowSummary struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	MetricCount      int       `json:"metric_count"`
	EventCount       int       `json:"event_count"`
	StateChangeCount int       `json:"state_change_count"`
	SessionCount     int       `json:"session_count"`
	AnnotationCount  int       `json:"annotation_count"`
}

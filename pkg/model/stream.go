package model

import "time"

// Stream is an ephemeral advertisement of a data-plane endpoint. It
// lives in the TTL store only; there is no durable row while live.
type Stream struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	StreamType     string         `json:"stream_type"`
	PublisherID    string         `json:"publisher_id"`
	Protocol       string         `json:"protocol"`
	Address        string         `json:"address"`
	Port           int            `json:"port"`
	EntityID       string         `json:"entity_id,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	Config         map[string]any `json:"config"`
	Metadata       map[string]any `json:"metadata"`
	AdvertisedAt   time.Time      `json:"advertised_at"`
	LastHeartbeat  time.Time      `json:"last_heartbeat"`
	ActiveSessions int            `json:"active_sessions"`
}

// StreamAdvertise is the advertise request body.
type StreamAdvertise struct {
	Name        string         `json:"name"`
	StreamType  string         `json:"stream_type"`
	PublisherID string         `json:"publisher_id"`
	Protocol    string         `json:"protocol"`
	Address     string         `json:"address"`
	Port        int            `json:"port"`
	EntityID    string         `json:"entity_id,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StreamRequest is what a consumer submits to negotiate a session.
type StreamRequest struct {
	ConsumerID      string         `json:"consumer_id"`
	ConsumerAddress string         `json:"consumer_address"`
	ConsumerPort    int            `json:"consumer_port,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

// Offer is the negotiator's answer; the consumer opens the data-plane
// connection itself using these fields.
type Offer struct {
	SessionID        string         `json:"session_id"`
	StreamID         string         `json:"stream_id"`
	StreamName       string         `json:"stream_name"`
	StreamType       string         `json:"stream_type"`
	Protocol         string         `json:"protocol"`
	PublisherAddress string         `json:"publisher_address"`
	PublisherPort    int            `json:"publisher_port"`
	TransportConfig  map[string]any `json:"transport_config"`
}

// Session is a consumer's accounted attachment to a stream, held in the
// TTL store and indexed by stream id.
type Session struct {
	SessionID        string         `json:"session_id"`
	StreamID         string         `json:"stream_id"`
	StreamName       string         `json:"stream_name"`
	StreamType       string         `json:"stream_type"`
	PublisherID      string         `json:"publisher_id"`
	PublisherAddress string         `json:"publisher_address"`
	PublisherPort    int            `json:"publisher_port"`
	ConsumerID       string         `json:"consumer_id"`
	ConsumerAddress  string         `json:"consumer_address"`
	Protocol         string         `json:"protocol"`
	TransportConfig  map[string]any `json:"transport_config"`
	StartedAt        time.Time      `json:"started_at"`
	Status           string         `json:"status"`
}

// StreamType is a durable catalog row describing a kind of stream.
type StreamType struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	DisplayName string         `json:"display_name" db:"display_name"`
	Transport   string         `json:"transport,omitempty" db:"transport"`
	Metadata    map[string]any `json:"metadata" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

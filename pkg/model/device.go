package model

import "time"

// Device status values.
const (
	DeviceOnline      = "online"
	DeviceOffline     = "offline"
	DeviceError       = "error"
	DeviceMaintenance = "maintenance"
)

// Device is a physical or virtual box known to the fleet.
type Device struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	DeviceType      string         `json:"device_type" db:"device_type"`
	HardwareID      string         `json:"hardware_id" db:"hardware_id"`
	FirmwareVersion string         `json:"firmware_version,omitempty" db:"firmware_version"`
	IPAddress       string         `json:"ip_address,omitempty" db:"ip_address"`
	Location        map[string]any `json:"location,omitempty" db:"location"`
	Metadata        map[string]any `json:"metadata,omitempty" db:"metadata"`
	Status          string         `json:"status" db:"status"`
	LastSeen        *time.Time     `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// DeviceRegistration is the register request body. HardwareID must be
// unique across the fleet.
type DeviceRegistration struct {
	Name            string         `json:"name"`
	DeviceType      string         `json:"device_type"`
	HardwareID      string         `json:"hardware_id"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	IPAddress       string         `json:"ip_address,omitempty"`
	Location        map[string]any `json:"location,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// DeviceHeartbeat marks a device alive and optionally updates metadata.
type DeviceHeartbeat struct {
	HardwareID string         `json:"hardware_id"`
	Status     string         `json:"status,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Metric is one time-series sample bound for the durable sink.
type Metric struct {
	DeviceID    string         `json:"device_id"`
	MetricName  string         `json:"metric_name"`
	MetricValue float64        `json:"metric_value"`
	Unit        string         `json:"unit,omitempty"`
	Tags        map[string]any `json:"tags,omitempty"`
	Time        time.Time      `json:"time,omitempty"`
}

// DeviceEvent is a discrete event reported by a device.
type DeviceEvent struct {
	DeviceID  string         `json:"device_id"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Time      time.Time      `json:"time,omitempty"`
}

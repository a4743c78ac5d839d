package model

import "time"

// RoutingDevice is a node in the visual patch graph. Ports are plain
// strings; a route may only reference declared ports.
type RoutingDevice struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	DeviceType string         `json:"device_type" db:"device_type"`
	Icon       string         `json:"icon" db:"icon"`
	Color      string         `json:"color" db:"color"`
	Inputs     []string       `json:"inputs" db:"inputs"`
	Outputs    []string       `json:"outputs" db:"outputs"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
	PositionX  float64        `json:"position_x" db:"position_x"`
	PositionY  float64        `json:"position_y" db:"position_y"`
	SortOrder  int            `json:"sort_order" db:"sort_order"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// Route is a directed edge between two device ports. Routes with a nil
// PresetID are the active patch; the tuple (from, from_port, to,
// to_port) is unique among active routes.
type Route struct {
	ID           string         `json:"id" db:"id"`
	FromDeviceID string         `json:"from_device_id" db:"from_device_id"`
	FromPort     string         `json:"from_port" db:"from_port"`
	ToDeviceID   string         `json:"to_device_id" db:"to_device_id"`
	ToPort       string         `json:"to_port" db:"to_port"`
	PresetID     *string        `json:"preset_id,omitempty" db:"preset_id"`
	Metadata     map[string]any `json:"metadata" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// RouteCreate is the request body for adding a route to the active set.
type RouteCreate struct {
	FromDeviceID string         `json:"from_device_id"`
	FromPort     string         `json:"from_port"`
	ToDeviceID   string         `json:"to_device_id"`
	ToPort       string         `json:"to_port"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// RoutePreset owns a snapshot of routes. At most one preset is active.
type RoutePreset struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Metadata    map[string]any `json:"metadata" db:"metadata"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	RouteCount  int            `json:"route_count" db:"-"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Position is an x/y coordinate for the node graph editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RoutingState is the single-fetch snapshot for frontends.
type RoutingState struct {
	Devices []*RoutingDevice `json:"devices"`
	Routes  []*Route         `json:"routes"`
	Presets []*RoutePreset   `json:"presets"`
}

// Package model defines the wire and storage types shared by the
// fabric's subsystems: the entity catalog, devices, the routing graph,
// streams and sessions, and the history records.
package model

import "time"

// State is free-form JSON entity state. Deep-merge semantics over it
// live in pkg/statejson.
type State = map[string]any

// EntityType describes a category of entities. The name is immutable
// once created.
type EntityType struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	DisplayName  string         `json:"display_name" db:"display_name"`
	Icon         string         `json:"icon,omitempty" db:"icon"`
	DefaultState State          `json:"default_state" db:"default_state"`
	StateSchema  map[string]any `json:"state_schema,omitempty" db:"state_schema"`
	Metadata     map[string]any `json:"metadata" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Entity is a logical unit of show state. Parent links form a forest;
// Path is the materialized dotted slug chain of ancestors.
type Entity struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Slug           string         `json:"slug" db:"slug"`
	EntityTypeID   string         `json:"entity_type_id" db:"entity_type_id"`
	ParentID       *string        `json:"parent_id,omitempty" db:"parent_id"`
	Path           string         `json:"path,omitempty" db:"path"`
	Status         string         `json:"status" db:"status"`
	State          State          `json:"state" db:"state"`
	StateUpdatedAt time.Time      `json:"state_updated_at" db:"state_updated_at"`
	Description    string         `json:"description,omitempty" db:"description"`
	Tags           []string       `json:"tags" db:"tags"`
	Metadata       map[string]any `json:"metadata" db:"metadata"`
	DeviceID       *string        `json:"device_id,omitempty" db:"device_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`

	Children []*Entity `json:"children,omitempty" db:"-"`
}

// EntityCreate is the request body for creating an entity. Slug is
// auto-derived from Name when empty.
type EntityCreate struct {
	Name         string         `json:"name"`
	Slug         string         `json:"slug,omitempty"`
	EntityTypeID string         `json:"entity_type_id"`
	ParentID     *string        `json:"parent_id,omitempty"`
	State        State          `json:"state,omitempty"`
	Description  string         `json:"description,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	DeviceID     *string        `json:"device_id,omitempty"`
}

// EntityUpdate carries optional metadata fields; nil pointers leave the
// stored value untouched.
type EntityUpdate struct {
	Name        *string         `json:"name,omitempty"`
	ParentID    *string         `json:"parent_id,omitempty"`
	Status      *string         `json:"status,omitempty"`
	Description *string         `json:"description,omitempty"`
	Tags        *[]string       `json:"tags,omitempty"`
	Metadata    *map[string]any `json:"metadata,omitempty"`
	DeviceID    *string         `json:"device_id,omitempty"`
}

// EntityFilter narrows entity listings.
type EntityFilter struct {
	EntityType string
	ParentID   *string
	Status     string
	Tags       []string
	Search     string
	Limit      int
	Offset     int
}

// TreeNode is an entity with nested children for tree queries.
type TreeNode struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Slug           string      `json:"slug"`
	EntityTypeID   string      `json:"entity_type_id"`
	EntityTypeName string      `json:"entity_type_name,omitempty"`
	Status         string      `json:"status"`
	State          State       `json:"state"`
	Children       []*TreeNode `json:"children"`
}

// StateUpdate is the body for PATCH (deep merge) and PUT (replace).
type StateUpdate struct {
	State  State  `json:"state"`
	Source string `json:"source,omitempty"`
}

// StateResponse echoes an entity's state after a read or write.
type StateResponse struct {
	EntityID       string    `json:"entity_id"`
	Slug           string    `json:"slug"`
	State          State     `json:"state"`
	StateUpdatedAt time.Time `json:"state_updated_at"`
}

// BulkStateUpdate maps slugs to state patches.
type BulkStateUpdate struct {
	Updates map[string]State `json:"updates"`
	Source  string           `json:"source,omitempty"`
}

// Variable types understood by advisory validation.
const (
	VarString  = "string"
	VarNumber  = "number"
	VarBoolean = "boolean"
	VarArray   = "array"
	VarColor   = "color"
	VarVector2 = "vector2"
	VarVector3 = "vector3"
	VarRange   = "range"
	VarEnum    = "enum"
	VarObject  = "object"
)

// VariableDef declares one input or output variable under an entity's
// metadata.variables. Validation is advisory only.
type VariableDef struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Direction    string         `json:"direction"`
	Description  string         `json:"description,omitempty"`
	DefaultValue any            `json:"defaultValue,omitempty"`
	Required     bool           `json:"required"`
	Config       map[string]any `json:"config,omitempty"`
}

// Variables holds the two ordered definition lists.
type Variables struct {
	Inputs  []VariableDef `json:"inputs"`
	Outputs []VariableDef `json:"outputs"`
}

// ValidationReport is the result of checking state against variable
// definitions. Mismatches are warnings, never rejections.
type ValidationReport struct {
	Valid           bool     `json:"valid"`
	Warnings        []string `json:"warnings"`
	MissingRequired []string `json:"missing_required"`
	UndefinedKeys   []string `json:"undefined_keys"`
}

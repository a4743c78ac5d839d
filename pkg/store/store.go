// Package store is the durable catalog: entity types, entities with
// their hierarchy, devices, the routing graph, and stream types. Two
// implementations exist, Postgres for deployments and an in-memory one
// for tests and database-less development.
package store

import (
	"context"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
)

// Store is the full catalog surface. Implementations return
// util.ErrNotFound / util.ErrAlreadyExists wrapped errors for missing
// records and uniqueness violations.
type Store interface {
	EntityTypes
	Entities
	Devices
	Routing
	StreamTypes

	// Counts feeds the /status endpoint.
	Counts(ctx context.Context) (entities, devices int, err error)

	Close() error
}

// EntityTypes is the type catalog. Names are immutable and unique.
type EntityTypes interface {
	CreateEntityType(ctx context.Context, et *model.EntityType) error
	GetEntityType(ctx context.Context, id string) (*model.EntityType, error)
	GetEntityTypeByName(ctx context.Context, name string) (*model.EntityType, error)
	ListEntityTypes(ctx context.Context) ([]*model.EntityType, error)
	DeleteEntityType(ctx context.Context, id string) error
}

// Entities is the hierarchy catalog. The parent chain must stay
// acyclic; implementations reject a parent change that would make an
// entity its own ancestor.
type Entities interface {
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	GetEntityBySlug(ctx context.Context, slug string) (*model.Entity, error)
	ListEntities(ctx context.Context, f model.EntityFilter) ([]*model.Entity, error)
	UpdateEntity(ctx context.Context, id string, upd model.EntityUpdate) (*model.Entity, error)

	// DeleteEntity removes an entity. With cascade the whole subtree
	// goes; otherwise children are orphaned (parent_id set null).
	// Returns the ids actually deleted.
	DeleteEntity(ctx context.Context, id string, cascade bool) ([]string, error)

	Children(ctx context.Context, id string) ([]*model.Entity, error)
	Ancestors(ctx context.Context, id string) ([]*model.Entity, error)
	Descendants(ctx context.Context, id string, maxDepth int) ([]*model.Entity, error)
	Siblings(ctx context.Context, id string) ([]*model.Entity, error)
	Tree(ctx context.Context, rootID, entityType string, maxDepth int) ([]*model.TreeNode, error)

	// UpdateEntityState persists a new state snapshot and bumps
	// state_updated_at; TouchEntityState bumps the timestamp only.
	UpdateEntityState(ctx context.Context, id string, state model.State, at time.Time) error
	TouchEntityState(ctx context.Context, id string, at time.Time) error
}

// Devices is the fleet registry. Hardware ids are unique.
type Devices interface {
	RegisterDevice(ctx context.Context, d *model.Device) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	GetDeviceByHardwareID(ctx context.Context, hardwareID string) (*model.Device, error)
	ListDevices(ctx context.Context, deviceType string, limit, offset int) ([]*model.Device, error)
	DeviceHeartbeat(ctx context.Context, hb model.DeviceHeartbeat, at time.Time) (*model.Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

// Routing is the visual patch graph. The active route set (preset_id
// null) keeps its port tuples unique; routes may only use ports the
// devices declare.
type Routing interface {
	CreateRoutingDevice(ctx context.Context, d *model.RoutingDevice) error
	GetRoutingDevice(ctx context.Context, id string) (*model.RoutingDevice, error)
	ListRoutingDevices(ctx context.Context, deviceType string, limit, offset int) ([]*model.RoutingDevice, error)
	UpdateRoutingDevice(ctx context.Context, d *model.RoutingDevice) error
	DeleteRoutingDevice(ctx context.Context, id string) error
	UpdatePositions(ctx context.Context, positions map[string]model.Position) (int, error)

	CreateRoute(ctx context.Context, rc model.RouteCreate) (*model.Route, error)
	ListRoutes(ctx context.Context, presetID string, activeOnly bool) ([]*model.Route, error)
	DeleteRoute(ctx context.Context, id string) error
	DeleteRouteByPorts(ctx context.Context, fromDevice, fromPort, toDevice, toPort string) error

	// ReplaceActiveRoutes swaps the whole active set in one commit.
	ReplaceActiveRoutes(ctx context.Context, routes []model.RouteCreate) ([]*model.Route, error)
	ClearActiveRoutes(ctx context.Context) (int, error)

	CreatePreset(ctx context.Context, p *model.RoutePreset) error
	GetPreset(ctx context.Context, id string) (*model.RoutePreset, error)
	ListPresets(ctx context.Context) ([]*model.RoutePreset, error)
	UpdatePreset(ctx context.Context, p *model.RoutePreset) error
	DeletePreset(ctx context.Context, id string) error

	// SavePreset snapshots the active routes under the preset; returns
	// the number captured. RecallPreset replaces the active set from
	// the preset's snapshot and flips the active flag.
	SavePreset(ctx context.Context, presetID string) (int, error)
	RecallPreset(ctx context.Context, presetID string) (*model.RoutePreset, int, error)
}

// StreamTypes is the durable stream-kind catalog.
type StreamTypes interface {
	CreateStreamType(ctx context.Context, st *model.StreamType) error
	ListStreamTypes(ctx context.Context) ([]*model.StreamType, error)
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Memory is the in-process Store used by tests and when DATABASE_URL is
// unset. Semantics match the Postgres implementation, including cycle
// rejection, cascade deletes, and the active-route tuple constraint.
type Memory struct {
	mu sync.RWMutex

	entityTypes map[string]*model.EntityType
	entities    map[string]*model.Entity
	devices     map[string]*model.Device

	routingDevices map[string]*model.RoutingDevice
	routes         map[string]*model.Route
	presets        map[string]*model.RoutePreset

	streamTypes map[string]*model.StreamType
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entityTypes:    make(map[string]*model.EntityType),
		entities:       make(map[string]*model.Entity),
		devices:        make(map[string]*model.Device),
		routingDevices: make(map[string]*model.RoutingDevice),
		routes:         make(map[string]*model.Route),
		presets:        make(map[string]*model.RoutePreset),
		streamTypes:    make(map[string]*model.StreamType),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// --- entity types ---

func (m *Memory) CreateEntityType(_ context.Context, et *model.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entityTypes {
		if existing.Name == et.Name {
			return util.NewConflictError("entity type", et.Name, "name must be unique")
		}
	}
	et.ID = newID(et.ID)
	now := time.Now().UTC()
	et.CreatedAt, et.UpdatedAt = now, now
	if et.DefaultState == nil {
		et.DefaultState = model.State{}
	}
	if et.Metadata == nil {
		et.Metadata = map[string]any{}
	}
	cp := *et
	m.entityTypes[et.ID] = &cp
	return nil
}

func (m *Memory) GetEntityType(_ context.Context, id string) (*model.EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.entityTypes[id]
	if !ok {
		return nil, util.NewNotFoundError("entity type", id)
	}
	cp := *et
	return &cp, nil
}

func (m *Memory) GetEntityTypeByName(_ context.Context, name string) (*model.EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, et := range m.entityTypes {
		if et.Name == name {
			cp := *et
			return &cp, nil
		}
	}
	return nil, util.NewNotFoundError("entity type", name)
}

func (m *Memory) ListEntityTypes(_ context.Context) ([]*model.EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.EntityType, 0, len(m.entityTypes))
	for _, et := range m.entityTypes {
		cp := *et
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteEntityType(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entityTypes[id]; !ok {
		return util.NewNotFoundError("entity type", id)
	}
	delete(m.entityTypes, id)
	return nil
}

// --- entities ---

func (m *Memory) CreateEntity(_ context.Context, e *model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entities {
		if existing.Slug == e.Slug {
			return util.NewConflictError("entity", e.Slug, "slug must be unique")
		}
	}
	if _, ok := m.entityTypes[e.EntityTypeID]; !ok {
		return util.NewNotFoundError("entity type", e.EntityTypeID)
	}
	if e.ParentID != nil {
		if _, ok := m.entities[*e.ParentID]; !ok {
			return util.NewNotFoundError("entity", *e.ParentID)
		}
	}

	e.ID = newID(e.ID)
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt, e.StateUpdatedAt = now, now, now
	if e.Status == "" {
		e.Status = "active"
	}
	if e.State == nil {
		e.State = model.State{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Tags = normalizeTags(e.Tags)
	e.Path = m.pathLocked(e.ParentID, e.Slug)

	cp := *e
	cp.Children = nil
	m.entities[e.ID] = &cp
	return nil
}

// pathLocked materializes the dotted slug chain down to slug.
func (m *Memory) pathLocked(parentID *string, slug string) string {
	segs := []string{slug}
	for parentID != nil {
		p, ok := m.entities[*parentID]
		if !ok {
			break
		}
		segs = append([]string{p.Slug}, segs...)
		parentID = p.ParentID
	}
	return strings.Join(segs, ".")
}

func (m *Memory) GetEntity(_ context.Context, id string) (*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, util.NewNotFoundError("entity", id)
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetEntityBySlug(_ context.Context, slug string) (*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entities {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, util.NewNotFoundError("entity", slug)
}

func (m *Memory) ListEntities(_ context.Context, f model.EntityFilter) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeID := ""
	if f.EntityType != "" {
		for _, et := range m.entityTypes {
			if et.Name == f.EntityType {
				typeID = et.ID
				break
			}
		}
		if typeID == "" {
			return []*model.Entity{}, nil
		}
	}

	var out []*model.Entity
	for _, e := range m.entities {
		if typeID != "" && e.EntityTypeID != typeID {
			continue
		}
		if f.ParentID != nil {
			if e.ParentID == nil || *e.ParentID != *f.ParentID {
				continue
			}
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if len(f.Tags) > 0 && !hasAllTags(e.Tags, f.Tags) {
			continue
		}
		if f.Search != "" && !matchesSearch(e, f.Search) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, f.Limit, f.Offset), nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesSearch(e *model.Entity, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Slug), q) ||
		strings.Contains(strings.ToLower(e.Description), q)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *Memory) UpdateEntity(_ context.Context, id string, upd model.EntityUpdate) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, util.NewNotFoundError("entity", id)
	}

	if upd.ParentID != nil {
		newParent := upd.ParentID
		if *newParent == "" {
			newParent = nil
		} else {
			if _, ok := m.entities[*newParent]; !ok {
				return nil, util.NewNotFoundError("entity", *newParent)
			}
			if m.wouldCycleLocked(id, *newParent) {
				return nil, util.NewValidationError("entity cannot be its own ancestor")
			}
		}
		e.ParentID = newParent
	}
	if upd.Name != nil {
		e.Name = *upd.Name
	}
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	if upd.Description != nil {
		e.Description = *upd.Description
	}
	if upd.Tags != nil {
		e.Tags = normalizeTags(*upd.Tags)
	}
	if upd.Metadata != nil {
		e.Metadata = *upd.Metadata
	}
	if upd.DeviceID != nil {
		if *upd.DeviceID == "" {
			e.DeviceID = nil
		} else {
			e.DeviceID = upd.DeviceID
		}
	}
	e.UpdatedAt = time.Now().UTC()
	e.Path = m.pathLocked(e.ParentID, e.Slug)
	m.refreshPathsLocked(e.ID)

	cp := *e
	return &cp, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// wouldCycleLocked reports whether making candidate the parent of id
// would put id in its own ancestor chain.
func (m *Memory) wouldCycleLocked(id, candidate string) bool {
	cur := candidate
	for {
		if cur == id {
			return true
		}
		e, ok := m.entities[cur]
		if !ok || e.ParentID == nil {
			return false
		}
		cur = *e.ParentID
	}
}

// refreshPathsLocked recomputes materialized paths for the subtree
// under id after a reparent.
func (m *Memory) refreshPathsLocked(id string) {
	for _, e := range m.entities {
		if e.ParentID != nil && *e.ParentID == id {
			e.Path = m.pathLocked(e.ParentID, e.Slug)
			m.refreshPathsLocked(e.ID)
		}
	}
}

func (m *Memory) DeleteEntity(_ context.Context, id string, cascade bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[id]; !ok {
		return nil, util.NewNotFoundError("entity", id)
	}

	deleted := []string{id}
	if cascade {
		deleted = append(deleted, m.subtreeLocked(id)...)
	} else {
		for _, e := range m.entities {
			if e.ParentID != nil && *e.ParentID == id {
				e.ParentID = nil
				e.Path = e.Slug
				m.refreshPathsLocked(e.ID)
			}
		}
	}
	for _, d := range deleted {
		delete(m.entities, d)
	}
	return deleted, nil
}

func (m *Memory) subtreeLocked(id string) []string {
	var out []string
	for _, e := range m.entities {
		if e.ParentID != nil && *e.ParentID == id {
			out = append(out, e.ID)
			out = append(out, m.subtreeLocked(e.ID)...)
		}
	}
	return out
}

func (m *Memory) Children(_ context.Context, id string) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entity
	for _, e := range m.entities {
		if e.ParentID != nil && *e.ParentID == id {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Ancestors(_ context.Context, id string) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, util.NewNotFoundError("entity", id)
	}
	var out []*model.Entity
	cur := e.ParentID
	for cur != nil {
		p, ok := m.entities[*cur]
		if !ok {
			break
		}
		cp := *p
		out = append(out, &cp)
		cur = p.ParentID
	}
	return out, nil
}

func (m *Memory) Descendants(_ context.Context, id string, maxDepth int) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.entities[id]; !ok {
		return nil, util.NewNotFoundError("entity", id)
	}
	return m.descendantsLocked(id, 1, maxDepth), nil
}

func (m *Memory) descendantsLocked(id string, depth, maxDepth int) []*model.Entity {
	if maxDepth > 0 && depth > maxDepth {
		return nil
	}
	var out []*model.Entity
	for _, e := range m.entities {
		if e.ParentID != nil && *e.ParentID == id {
			cp := *e
			out = append(out, &cp)
			out = append(out, m.descendantsLocked(e.ID, depth+1, maxDepth)...)
		}
	}
	return out
}

func (m *Memory) Siblings(_ context.Context, id string) ([]*model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, util.NewNotFoundError("entity", id)
	}
	var out []*model.Entity
	for _, other := range m.entities {
		if other.ID == id {
			continue
		}
		if samePtr(other.ParentID, e.ParentID) {
			cp := *other
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Memory) Tree(_ context.Context, rootID, entityType string, maxDepth int) ([]*model.TreeNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typeID := ""
	if entityType != "" {
		for _, et := range m.entityTypes {
			if et.Name == entityType {
				typeID = et.ID
				break
			}
		}
	}

	var roots []*model.Entity
	if rootID != "" {
		e, ok := m.entities[rootID]
		if !ok {
			return nil, util.NewNotFoundError("entity", rootID)
		}
		roots = []*model.Entity{e}
	} else {
		for _, e := range m.entities {
			if e.ParentID == nil {
				if typeID != "" && e.EntityTypeID != typeID {
					continue
				}
				roots = append(roots, e)
			}
		}
		sort.Slice(roots, func(i, j int) bool { return roots[i].Name < roots[j].Name })
	}

	out := make([]*model.TreeNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, m.treeNodeLocked(r, 1, maxDepth))
	}
	return out, nil
}

func (m *Memory) treeNodeLocked(e *model.Entity, depth, maxDepth int) *model.TreeNode {
	node := &model.TreeNode{
		ID:           e.ID,
		Name:         e.Name,
		Slug:         e.Slug,
		EntityTypeID: e.EntityTypeID,
		Status:       e.Status,
		State:        e.State,
		Children:     []*model.TreeNode{},
	}
	if et, ok := m.entityTypes[e.EntityTypeID]; ok {
		node.EntityTypeName = et.Name
	}
	if maxDepth > 0 && depth >= maxDepth {
		return node
	}
	var children []*model.Entity
	for _, c := range m.entities {
		if c.ParentID != nil && *c.ParentID == e.ID {
			children = append(children, c)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		node.Children = append(node.Children, m.treeNodeLocked(c, depth+1, maxDepth))
	}
	return node
}

func (m *Memory) UpdateEntityState(_ context.Context, id string, state model.State, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return util.NewNotFoundError("entity", id)
	}
	e.State = state
	e.StateUpdatedAt = at
	return nil
}

func (m *Memory) TouchEntityState(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return util.NewNotFoundError("entity", id)
	}
	e.StateUpdatedAt = at
	return nil
}

// --- devices ---

func (m *Memory) RegisterDevice(_ context.Context, d *model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.HardwareID == d.HardwareID {
			return util.NewConflictError("device", d.HardwareID, "hardware_id already registered")
		}
	}
	d.ID = newID(d.ID)
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Status == "" {
		d.Status = model.DeviceOnline
	}
	d.LastSeen = &now
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *Memory) GetDevice(_ context.Context, id string) (*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, util.NewNotFoundError("device", id)
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) GetDeviceByHardwareID(_ context.Context, hardwareID string) (*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.HardwareID == hardwareID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, util.NewNotFoundError("device", hardwareID)
}

func (m *Memory) ListDevices(_ context.Context, deviceType string, limit, offset int) ([]*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Device
	for _, d := range m.devices {
		if deviceType != "" && d.DeviceType != deviceType {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (m *Memory) DeviceHeartbeat(_ context.Context, hb model.DeviceHeartbeat, at time.Time) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.HardwareID == hb.HardwareID {
			d.LastSeen = &at
			d.UpdatedAt = at
			if hb.Status != "" {
				d.Status = hb.Status
			} else {
				d.Status = model.DeviceOnline
			}
			if hb.Metadata != nil {
				d.Metadata = hb.Metadata
			}
			cp := *d
			return &cp, nil
		}
	}
	return nil, util.NewNotFoundError("device", hb.HardwareID)
}

func (m *Memory) DeleteDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return util.NewNotFoundError("device", id)
	}
	delete(m.devices, id)
	return nil
}

// --- counts ---

func (m *Memory) Counts(_ context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities), len(m.devices), nil
}

// --- stream types ---

func (m *Memory) CreateStreamType(_ context.Context, st *model.StreamType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.streamTypes {
		if existing.Name == st.Name {
			return util.NewConflictError("stream type", st.Name, "name must be unique")
		}
	}
	st.ID = newID(st.ID)
	st.CreatedAt = time.Now().UTC()
	if st.Metadata == nil {
		st.Metadata = map[string]any{}
	}
	cp := *st
	m.streamTypes[st.ID] = &cp
	return nil
}

func (m *Memory) ListStreamTypes(_ context.Context) ([]*model.StreamType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.StreamType, 0, len(m.streamTypes))
	for _, st := range m.streamTypes {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

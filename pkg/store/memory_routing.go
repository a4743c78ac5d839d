package store

import (
	"context"
	"sort"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Routing graph operations for the in-memory store.

func (m *Memory) CreateRoutingDevice(_ context.Context, d *model.RoutingDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = newID(d.ID)
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Icon == "" {
		d.Icon = "📦"
	}
	if d.Color == "" {
		d.Color = "#6C757D"
	}
	if d.Inputs == nil {
		d.Inputs = []string{}
	}
	if d.Outputs == nil {
		d.Outputs = []string{}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	cp := *d
	m.routingDevices[d.ID] = &cp
	return nil
}

func (m *Memory) GetRoutingDevice(_ context.Context, id string) (*model.RoutingDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.routingDevices[id]
	if !ok {
		return nil, util.NewNotFoundError("routing device", id)
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListRoutingDevices(_ context.Context, deviceType string, limit, offset int) ([]*model.RoutingDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RoutingDevice
	for _, d := range m.routingDevices {
		if deviceType != "" && d.DeviceType != deviceType {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return paginate(out, limit, offset), nil
}

func (m *Memory) UpdateRoutingDevice(_ context.Context, d *model.RoutingDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.routingDevices[d.ID]
	if !ok {
		return util.NewNotFoundError("routing device", d.ID)
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	cp := *d
	m.routingDevices[d.ID] = &cp
	return nil
}

func (m *Memory) DeleteRoutingDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routingDevices[id]; !ok {
		return util.NewNotFoundError("routing device", id)
	}
	delete(m.routingDevices, id)
	// Routes referencing the device go with it.
	for rid, r := range m.routes {
		if r.FromDeviceID == id || r.ToDeviceID == id {
			delete(m.routes, rid)
		}
	}
	return nil
}

func (m *Memory) UpdatePositions(_ context.Context, positions map[string]model.Position) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for id, pos := range positions {
		if d, ok := m.routingDevices[id]; ok {
			d.PositionX = pos.X
			d.PositionY = pos.Y
			d.UpdatedAt = time.Now().UTC()
			updated++
		}
	}
	return updated, nil
}

// validateRouteLocked checks device existence, declared ports, and the
// active tuple constraint.
func (m *Memory) validateRouteLocked(rc model.RouteCreate) error {
	from, ok := m.routingDevices[rc.FromDeviceID]
	if !ok {
		return util.NewNotFoundError("routing device", rc.FromDeviceID)
	}
	to, ok := m.routingDevices[rc.ToDeviceID]
	if !ok {
		return util.NewNotFoundError("routing device", rc.ToDeviceID)
	}
	var v util.ValidationBuilder
	v.Add(contains(from.Outputs, rc.FromPort), "from_port '"+rc.FromPort+"' not declared on device "+from.Name)
	v.Add(contains(to.Inputs, rc.ToPort), "to_port '"+rc.ToPort+"' not declared on device "+to.Name)
	if err := v.Build(); err != nil {
		return err
	}
	for _, r := range m.routes {
		if r.PresetID == nil &&
			r.FromDeviceID == rc.FromDeviceID && r.FromPort == rc.FromPort &&
			r.ToDeviceID == rc.ToDeviceID && r.ToPort == rc.ToPort {
			return util.NewConflictError("route", rc.FromPort+"->"+rc.ToPort, "active route tuple exists")
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (m *Memory) CreateRoute(_ context.Context, rc model.RouteCreate) (*model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRouteLocked(rc); err != nil {
		return nil, err
	}
	r := &model.Route{
		ID:           newID(""),
		FromDeviceID: rc.FromDeviceID,
		FromPort:     rc.FromPort,
		ToDeviceID:   rc.ToDeviceID,
		ToPort:       rc.ToPort,
		Metadata:     rc.Metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	cp := *r
	m.routes[r.ID] = &cp
	return r, nil
}

func (m *Memory) ListRoutes(_ context.Context, presetID string, activeOnly bool) ([]*model.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Route
	for _, r := range m.routes {
		if presetID != "" {
			if r.PresetID == nil || *r.PresetID != presetID {
				continue
			}
		} else if activeOnly && r.PresetID != nil {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteRoute(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return util.NewNotFoundError("route", id)
	}
	delete(m.routes, id)
	return nil
}

func (m *Memory) DeleteRouteByPorts(_ context.Context, fromDevice, fromPort, toDevice, toPort string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.routes {
		if r.PresetID == nil &&
			r.FromDeviceID == fromDevice && r.FromPort == fromPort &&
			r.ToDeviceID == toDevice && r.ToPort == toPort {
			delete(m.routes, id)
			return nil
		}
	}
	return util.NewNotFoundError("route", fromPort+"->"+toPort)
}

func (m *Memory) ReplaceActiveRoutes(_ context.Context, routes []model.RouteCreate) ([]*model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.routes {
		if r.PresetID == nil {
			delete(m.routes, id)
		}
	}
	out := make([]*model.Route, 0, len(routes))
	for _, rc := range routes {
		if err := m.validateRouteLocked(rc); err != nil {
			return nil, err
		}
		r := &model.Route{
			ID:           newID(""),
			FromDeviceID: rc.FromDeviceID,
			FromPort:     rc.FromPort,
			ToDeviceID:   rc.ToDeviceID,
			ToPort:       rc.ToPort,
			Metadata:     rc.Metadata,
			CreatedAt:    time.Now().UTC(),
		}
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		cp := *r
		m.routes[r.ID] = &cp
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) ClearActiveRoutes(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.routes {
		if r.PresetID == nil {
			delete(m.routes, id)
			n++
		}
	}
	return n, nil
}

// --- presets ---

func (m *Memory) CreatePreset(_ context.Context, p *model.RoutePreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.presets {
		if existing.Name == p.Name {
			return util.NewConflictError("preset", p.Name, "name must be unique")
		}
	}
	p.ID = newID(p.ID)
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	cp := *p
	m.presets[p.ID] = &cp
	return nil
}

func (m *Memory) GetPreset(_ context.Context, id string) (*model.RoutePreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.presets[id]
	if !ok {
		return nil, util.NewNotFoundError("preset", id)
	}
	cp := *p
	cp.RouteCount = m.presetRouteCountLocked(id)
	return &cp, nil
}

func (m *Memory) presetRouteCountLocked(id string) int {
	n := 0
	for _, r := range m.routes {
		if r.PresetID != nil && *r.PresetID == id {
			n++
		}
	}
	return n
}

func (m *Memory) ListPresets(_ context.Context) ([]*model.RoutePreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.RoutePreset, 0, len(m.presets))
	for _, p := range m.presets {
		cp := *p
		cp.RouteCount = m.presetRouteCountLocked(p.ID)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdatePreset(_ context.Context, p *model.RoutePreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.presets[p.ID]
	if !ok {
		return util.NewNotFoundError("preset", p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	p.IsActive = existing.IsActive
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	m.presets[p.ID] = &cp
	return nil
}

func (m *Memory) DeletePreset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok {
		return util.NewNotFoundError("preset", id)
	}
	delete(m.presets, id)
	for rid, r := range m.routes {
		if r.PresetID != nil && *r.PresetID == id {
			delete(m.routes, rid)
		}
	}
	return nil
}

func (m *Memory) SavePreset(_ context.Context, presetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[presetID]
	if !ok {
		return 0, util.NewNotFoundError("preset", presetID)
	}

	// Replace the preset's snapshot with copies of the active routes.
	for rid, r := range m.routes {
		if r.PresetID != nil && *r.PresetID == presetID {
			delete(m.routes, rid)
		}
	}
	var snaps []*model.Route
	for _, r := range m.routes {
		if r.PresetID == nil {
			snap := *r
			snap.ID = newID("")
			pid := presetID
			snap.PresetID = &pid
			snaps = append(snaps, &snap)
		}
	}
	for _, s := range snaps {
		m.routes[s.ID] = s
	}
	p.UpdatedAt = time.Now().UTC()
	return len(snaps), nil
}

func (m *Memory) RecallPreset(_ context.Context, presetID string) (*model.RoutePreset, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[presetID]
	if !ok {
		return nil, 0, util.NewNotFoundError("preset", presetID)
	}

	for rid, r := range m.routes {
		if r.PresetID == nil {
			delete(m.routes, rid)
		}
	}
	var recalled []*model.Route
	for _, r := range m.routes {
		if r.PresetID != nil && *r.PresetID == presetID {
			active := *r
			active.ID = newID("")
			active.PresetID = nil
			recalled = append(recalled, &active)
		}
	}
	for _, r := range recalled {
		m.routes[r.ID] = r
	}
	n := len(recalled)
	for _, other := range m.presets {
		other.IsActive = false
	}
	p.IsActive = true
	p.UpdatedAt = time.Now().UTC()

	cp := *p
	cp.RouteCount = n
	return &cp, n, nil
}

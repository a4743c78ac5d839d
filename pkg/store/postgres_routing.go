package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Routing graph operations for the Postgres store. Preset save/recall
// run in one transaction each so the active set never half-flips.

type routingDeviceRow struct {
	ID         string      `db:"id"`
	Name       string      `db:"name"`
	DeviceType string      `db:"device_type"`
	Icon       string      `db:"icon"`
	Color      string      `db:"color"`
	Inputs     jsonStrings `db:"inputs"`
	Outputs    jsonStrings `db:"outputs"`
	Metadata   jsonMap     `db:"metadata"`
	PositionX  float64     `db:"position_x"`
	PositionY  float64     `db:"position_y"`
	SortOrder  int         `db:"sort_order"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

func (r routingDeviceRow) toModel() *model.RoutingDevice {
	return &model.RoutingDevice{
		ID:         r.ID,
		Name:       r.Name,
		DeviceType: r.DeviceType,
		Icon:       r.Icon,
		Color:      r.Color,
		Inputs:     r.Inputs,
		Outputs:    r.Outputs,
		Metadata:   r.Metadata,
		PositionX:  r.PositionX,
		PositionY:  r.PositionY,
		SortOrder:  r.SortOrder,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (p *Postgres) CreateRoutingDevice(ctx context.Context, d *model.RoutingDevice) error {
	d.ID = newID(d.ID)
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Icon == "" {
		d.Icon = "📦"
	}
	if d.Color == "" {
		d.Color = "#6C757D"
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO routing_devices (id, name, device_type, icon, color, inputs, outputs,
		                             metadata, position_x, position_y, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		d.ID, d.Name, d.DeviceType, d.Icon, d.Color,
		jsonStrings(d.Inputs), jsonStrings(d.Outputs), jsonMap(d.Metadata),
		d.PositionX, d.PositionY, d.SortOrder, now)
	return err
}

func (p *Postgres) GetRoutingDevice(ctx context.Context, id string) (*model.RoutingDevice, error) {
	var r routingDeviceRow
	if err := p.db.GetContext(ctx, &r, `SELECT * FROM routing_devices WHERE id = $1`, id); err != nil {
		return nil, notFoundOr(err, "routing device", id)
	}
	return r.toModel(), nil
}

func (p *Postgres) ListRoutingDevices(ctx context.Context, deviceType string, limit, offset int) ([]*model.RoutingDevice, error) {
	q := `SELECT * FROM routing_devices`
	var args []any
	if deviceType != "" {
		args = append(args, deviceType)
		q += ` WHERE device_type = $1`
	}
	q += ` ORDER BY sort_order, name`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	var rows []routingDeviceRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.RoutingDevice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) UpdateRoutingDevice(ctx context.Context, d *model.RoutingDevice) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE routing_devices
		SET name = $1, device_type = $2, icon = $3, color = $4, inputs = $5, outputs = $6,
		    metadata = $7, position_x = $8, position_y = $9, sort_order = $10, updated_at = now()
		WHERE id = $11`,
		d.Name, d.DeviceType, d.Icon, d.Color,
		jsonStrings(d.Inputs), jsonStrings(d.Outputs), jsonMap(d.Metadata),
		d.PositionX, d.PositionY, d.SortOrder, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("routing device", d.ID)
	}
	return nil
}

func (p *Postgres) DeleteRoutingDevice(ctx context.Context, id string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM routes WHERE from_device_id = $1 OR to_device_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM routing_devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("routing device", id)
	}
	return tx.Commit()
}

func (p *Postgres) UpdatePositions(ctx context.Context, positions map[string]model.Position) (int, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	updated := 0
	for id, pos := range positions {
		res, err := tx.ExecContext(ctx,
			`UPDATE routing_devices SET position_x = $1, position_y = $2, updated_at = now() WHERE id = $3`,
			pos.X, pos.Y, id)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	return updated, tx.Commit()
}

type routeRow struct {
	ID           string         `db:"id"`
	FromDeviceID string         `db:"from_device_id"`
	FromPort     string         `db:"from_port"`
	ToDeviceID   string         `db:"to_device_id"`
	ToPort       string         `db:"to_port"`
	PresetID     sql.NullString `db:"preset_id"`
	Metadata     jsonMap        `db:"metadata"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r routeRow) toModel() *model.Route {
	return &model.Route{
		ID:           r.ID,
		FromDeviceID: r.FromDeviceID,
		FromPort:     r.FromPort,
		ToDeviceID:   r.ToDeviceID,
		ToPort:       r.ToPort,
		PresetID:     nullableString(r.PresetID),
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt,
	}
}

func (p *Postgres) validateRoute(ctx context.Context, rc model.RouteCreate) error {
	from, err := p.GetRoutingDevice(ctx, rc.FromDeviceID)
	if err != nil {
		return err
	}
	to, err := p.GetRoutingDevice(ctx, rc.ToDeviceID)
	if err != nil {
		return err
	}
	var v util.ValidationBuilder
	v.Add(contains(from.Outputs, rc.FromPort), "from_port '"+rc.FromPort+"' not declared on device "+from.Name)
	v.Add(contains(to.Inputs, rc.ToPort), "to_port '"+rc.ToPort+"' not declared on device "+to.Name)
	return v.Build()
}

func (p *Postgres) CreateRoute(ctx context.Context, rc model.RouteCreate) (*model.Route, error) {
	if err := p.validateRoute(ctx, rc); err != nil {
		return nil, err
	}
	var exists bool
	err := p.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM routes
		 WHERE preset_id IS NULL AND from_device_id = $1 AND from_port = $2
		   AND to_device_id = $3 AND to_port = $4)`,
		rc.FromDeviceID, rc.FromPort, rc.ToDeviceID, rc.ToPort)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, util.NewConflictError("route", rc.FromPort+"->"+rc.ToPort, "active route tuple exists")
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
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO routes (id, from_device_id, from_port, to_device_id, to_port, preset_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)`,
		r.ID, r.FromDeviceID, r.FromPort, r.ToDeviceID, r.ToPort, jsonMap(r.Metadata), r.CreatedAt)
	if isUniqueViolation(err) {
		return nil, util.NewConflictError("route", rc.FromPort+"->"+rc.ToPort, "active route tuple exists")
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *Postgres) ListRoutes(ctx context.Context, presetID string, activeOnly bool) ([]*model.Route, error) {
	q := `SELECT * FROM routes`
	var args []any
	switch {
	case presetID != "":
		args = append(args, presetID)
		q += ` WHERE preset_id = $1`
	case activeOnly:
		q += ` WHERE preset_id IS NULL`
	}
	q += ` ORDER BY created_at`
	var rows []routeRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Route, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) DeleteRoute(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("route", id)
	}
	return nil
}

func (p *Postgres) DeleteRouteByPorts(ctx context.Context, fromDevice, fromPort, toDevice, toPort string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM routes
		WHERE preset_id IS NULL AND from_device_id = $1 AND from_port = $2
		  AND to_device_id = $3 AND to_port = $4`,
		fromDevice, fromPort, toDevice, toPort)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("route", fromPort+"->"+toPort)
	}
	return nil
}

func (p *Postgres) ReplaceActiveRoutes(ctx context.Context, routes []model.RouteCreate) ([]*model.Route, error) {
	for _, rc := range routes {
		if err := p.validateRoute(ctx, rc); err != nil {
			return nil, err
		}
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE preset_id IS NULL`); err != nil {
		return nil, err
	}
	out := make([]*model.Route, 0, len(routes))
	now := time.Now().UTC()
	for _, rc := range routes {
		r := &model.Route{
			ID:           newID(""),
			FromDeviceID: rc.FromDeviceID,
			FromPort:     rc.FromPort,
			ToDeviceID:   rc.ToDeviceID,
			ToPort:       rc.ToPort,
			Metadata:     rc.Metadata,
			CreatedAt:    now,
		}
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO routes (id, from_device_id, from_port, to_device_id, to_port, preset_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)`,
			r.ID, r.FromDeviceID, r.FromPort, r.ToDeviceID, r.ToPort, jsonMap(r.Metadata), now); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, tx.Commit()
}

func (p *Postgres) ClearActiveRoutes(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM routes WHERE preset_id IS NULL`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type presetRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	Metadata    jsonMap        `db:"metadata"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r presetRow) toModel() *model.RoutePreset {
	return &model.RoutePreset{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		Metadata:    r.Metadata,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (p *Postgres) CreatePreset(ctx context.Context, preset *model.RoutePreset) error {
	preset.ID = newID(preset.ID)
	now := time.Now().UTC()
	preset.CreatedAt, preset.UpdatedAt = now, now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO route_presets (id, name, description, metadata, is_active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, false, $5, $5)`,
		preset.ID, preset.Name, preset.Description, jsonMap(preset.Metadata), now)
	if isUniqueViolation(err) {
		return util.NewConflictError("preset", preset.Name, "name must be unique")
	}
	return err
}

func (p *Postgres) GetPreset(ctx context.Context, id string) (*model.RoutePreset, error) {
	var r presetRow
	if err := p.db.GetContext(ctx, &r, `SELECT * FROM route_presets WHERE id = $1`, id); err != nil {
		return nil, notFoundOr(err, "preset", id)
	}
	preset := r.toModel()
	if err := p.db.GetContext(ctx, &preset.RouteCount,
		`SELECT count(*) FROM routes WHERE preset_id = $1`, id); err != nil {
		return nil, err
	}
	return preset, nil
}

func (p *Postgres) ListPresets(ctx context.Context) ([]*model.RoutePreset, error) {
	var rows []presetRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM route_presets ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]*model.RoutePreset, 0, len(rows))
	for _, r := range rows {
		preset := r.toModel()
		if err := p.db.GetContext(ctx, &preset.RouteCount,
			`SELECT count(*) FROM routes WHERE preset_id = $1`, preset.ID); err != nil {
			return nil, err
		}
		out = append(out, preset)
	}
	return out, nil
}

func (p *Postgres) UpdatePreset(ctx context.Context, preset *model.RoutePreset) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE route_presets SET name = $1, description = NULLIF($2, ''), metadata = $3, updated_at = now()
		WHERE id = $4`,
		preset.Name, preset.Description, jsonMap(preset.Metadata), preset.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("preset", preset.ID)
	}
	return nil
}

func (p *Postgres) DeletePreset(ctx context.Context, id string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE preset_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM route_presets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("preset", id)
	}
	return tx.Commit()
}

func (p *Postgres) SavePreset(ctx context.Context, presetID string) (int, error) {
	if _, err := p.GetPreset(ctx, presetID); err != nil {
		return 0, err
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE preset_id = $1`, presetID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO routes (id, from_device_id, from_port, to_device_id, to_port, preset_id, metadata, created_at)
		SELECT gen_random_uuid(), from_device_id, from_port, to_device_id, to_port, $1, metadata, now()
		FROM routes WHERE preset_id IS NULL`, presetID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE route_presets SET updated_at = now() WHERE id = $1`, presetID); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func (p *Postgres) RecallPreset(ctx context.Context, presetID string) (*model.RoutePreset, int, error) {
	if _, err := p.GetPreset(ctx, presetID); err != nil {
		return nil, 0, err
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE preset_id IS NULL`); err != nil {
		return nil, 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO routes (id, from_device_id, from_port, to_device_id, to_port, preset_id, metadata, created_at)
		SELECT gen_random_uuid(), from_device_id, from_port, to_device_id, to_port, NULL, metadata, now()
		FROM routes WHERE preset_id = $1`, presetID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE route_presets SET is_active = false WHERE is_active`); err != nil {
		return nil, 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE route_presets SET is_active = true, updated_at = now() WHERE id = $1`, presetID); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	n, _ := res.RowsAffected()
	preset, err := p.GetPreset(ctx, presetID)
	if err != nil {
		return nil, 0, err
	}
	return preset, int(n), nil
}

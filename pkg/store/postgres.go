package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Postgres is the production Store over sqlx with the pgx driver.
type Postgres struct {
	db *sqlx.DB
}

// ConnectPostgres opens and pings the database.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, util.NewDependencyError("postgres", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, util.NewDependencyError("postgres", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// DB exposes the underlying handle for the history recorder, which
// shares the same database.
func (p *Postgres) DB() *sqlx.DB { return p.db }

// jsonMap stores a JSON object column.
type jsonMap map[string]any

func (j jsonMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *jsonMap) Scan(src any) error {
	if src == nil {
		*j = jsonMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return json.Unmarshal(data, j)
}

// jsonStrings stores a JSON string-array column.
type jsonStrings []string

func (j jsonStrings) Value() (driver.Value, error) {
	if j == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(j)
}

func (j *jsonStrings) Scan(src any) error {
	if src == nil {
		*j = jsonStrings{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return json.Unmarshal(data, j)
}

func isUniqueViolation(err error) bool {
	// pgx surfaces SQLSTATE 23505 in the error string; matching on it
	// avoids importing pgconn here.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func notFoundOr(err error, kind, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return util.NewNotFoundError(kind, key)
	}
	return err
}

// --- entity types ---

type entityTypeRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	DisplayName  string         `db:"display_name"`
	Icon         sql.NullString `db:"icon"`
	DefaultState jsonMap        `db:"default_state"`
	StateSchema  jsonMap        `db:"state_schema"`
	Metadata     jsonMap        `db:"metadata"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r entityTypeRow) toModel() *model.EntityType {
	return &model.EntityType{
		ID:           r.ID,
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		Icon:         r.Icon.String,
		DefaultState: model.State(r.DefaultState),
		StateSchema:  r.StateSchema,
		Metadata:     r.Metadata,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (p *Postgres) CreateEntityType(ctx context.Context, et *model.EntityType) error {
	et.ID = newID(et.ID)
	now := time.Now().UTC()
	et.CreatedAt, et.UpdatedAt = now, now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entity_types (id, name, display_name, icon, default_state, state_schema, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $8)`,
		et.ID, et.Name, et.DisplayName, et.Icon,
		jsonMap(et.DefaultState), jsonMap(et.StateSchema), jsonMap(et.Metadata), now)
	if isUniqueViolation(err) {
		return util.NewConflictError("entity type", et.Name, "name must be unique")
	}
	return err
}

func (p *Postgres) GetEntityType(ctx context.Context, id string) (*model.EntityType, error) {
	var r entityTypeRow
	err := p.db.GetContext(ctx, &r, `SELECT * FROM entity_types WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "entity type", id)
	}
	return r.toModel(), nil
}

func (p *Postgres) GetEntityTypeByName(ctx context.Context, name string) (*model.EntityType, error) {
	var r entityTypeRow
	err := p.db.GetContext(ctx, &r, `SELECT * FROM entity_types WHERE name = $1`, name)
	if err != nil {
		return nil, notFoundOr(err, "entity type", name)
	}
	return r.toModel(), nil
}

func (p *Postgres) ListEntityTypes(ctx context.Context) ([]*model.EntityType, error) {
	var rows []entityTypeRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM entity_types ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]*model.EntityType, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) DeleteEntityType(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM entity_types WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("entity type", id)
	}
	return nil
}

// --- entities ---

type entityRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Slug           string         `db:"slug"`
	EntityTypeID   string         `db:"entity_type_id"`
	ParentID       sql.NullString `db:"parent_id"`
	Path           sql.NullString `db:"path"`
	Status         string         `db:"status"`
	State          jsonMap        `db:"state"`
	StateUpdatedAt time.Time      `db:"state_updated_at"`
	Description    sql.NullString `db:"description"`
	Tags           jsonStrings    `db:"tags"`
	Metadata       jsonMap        `db:"metadata"`
	DeviceID       sql.NullString `db:"device_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r entityRow) toModel() *model.Entity {
	return &model.Entity{
		ID:             r.ID,
		Name:           r.Name,
		Slug:           r.Slug,
		EntityTypeID:   r.EntityTypeID,
		ParentID:       nullableString(r.ParentID),
		Path:           r.Path.String,
		Status:         r.Status,
		State:          model.State(r.State),
		StateUpdatedAt: r.StateUpdatedAt,
		Description:    r.Description.String,
		Tags:           r.Tags,
		Metadata:       r.Metadata,
		DeviceID:       nullableString(r.DeviceID),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (p *Postgres) CreateEntity(ctx context.Context, e *model.Entity) error {
	e.ID = newID(e.ID)
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt, e.StateUpdatedAt = now, now, now
	if e.Status == "" {
		e.Status = "active"
	}
	e.Tags = normalizeTags(e.Tags)

	path, err := p.materializePath(ctx, e.ParentID, e.Slug)
	if err != nil {
		return err
	}
	e.Path = path

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, slug, entity_type_id, parent_id, path, status, state,
		                      state_updated_at, description, tags, metadata, device_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $14)`,
		e.ID, e.Name, e.Slug, e.EntityTypeID, e.ParentID, e.Path, e.Status,
		jsonMap(e.State), e.StateUpdatedAt, e.Description,
		jsonStrings(e.Tags), jsonMap(e.Metadata), e.DeviceID, now)
	if isUniqueViolation(err) {
		return util.NewConflictError("entity", e.Slug, "slug must be unique")
	}
	return err
}

func (p *Postgres) materializePath(ctx context.Context, parentID *string, slug string) (string, error) {
	if parentID == nil {
		return slug, nil
	}
	var parentPath sql.NullString
	err := p.db.GetContext(ctx, &parentPath, `SELECT path FROM entities WHERE id = $1`, *parentID)
	if err != nil {
		return "", notFoundOr(err, "entity", *parentID)
	}
	if parentPath.String == "" {
		return slug, nil
	}
	return parentPath.String + "." + slug, nil
}

func (p *Postgres) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var r entityRow
	err := p.db.GetContext(ctx, &r, `SELECT * FROM entities WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr(err, "entity", id)
	}
	return r.toModel(), nil
}

func (p *Postgres) GetEntityBySlug(ctx context.Context, slug string) (*model.Entity, error) {
	var r entityRow
	err := p.db.GetContext(ctx, &r, `SELECT * FROM entities WHERE slug = $1`, slug)
	if err != nil {
		return nil, notFoundOr(err, "entity", slug)
	}
	return r.toModel(), nil
}

func (p *Postgres) ListEntities(ctx context.Context, f model.EntityFilter) ([]*model.Entity, error) {
	q := `SELECT e.* FROM entities e`
	var conds []string
	var args []any

	if f.EntityType != "" {
		q += ` JOIN entity_types t ON t.id = e.entity_type_id`
		args = append(args, f.EntityType)
		conds = append(conds, fmt.Sprintf("t.name = $%d", len(args)))
	}
	if f.ParentID != nil {
		args = append(args, *f.ParentID)
		conds = append(conds, fmt.Sprintf("e.parent_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("e.status = $%d", len(args)))
	}
	for _, tag := range f.Tags {
		args = append(args, fmt.Sprintf(`["%s"]`, tag))
		conds = append(conds, fmt.Sprintf("e.tags @> $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(e.name ILIKE $%d OR e.slug ILIKE $%d OR e.description ILIKE $%d)", n, n, n))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY e.created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []entityRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) UpdateEntity(ctx context.Context, id string, upd model.EntityUpdate) (*model.Entity, error) {
	if upd.ParentID != nil && *upd.ParentID != "" {
		cycle, err := p.isAncestor(ctx, id, *upd.ParentID)
		if err != nil {
			return nil, err
		}
		if cycle {
			return nil, util.NewValidationError("entity cannot be its own ancestor")
		}
	}

	sets := []string{"updated_at = now()"}
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.ParentID != nil {
		if *upd.ParentID == "" {
			sets = append(sets, "parent_id = NULL")
		} else {
			add("parent_id", *upd.ParentID)
		}
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Tags != nil {
		add("tags", jsonStrings(normalizeTags(*upd.Tags)))
	}
	if upd.Metadata != nil {
		add("metadata", jsonMap(*upd.Metadata))
	}
	if upd.DeviceID != nil {
		if *upd.DeviceID == "" {
			sets = append(sets, "device_id = NULL")
		} else {
			add("device_id", *upd.DeviceID)
		}
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE entities SET %s WHERE id = $%d RETURNING *`, strings.Join(sets, ", "), len(args))

	var r entityRow
	if err := p.db.GetContext(ctx, &r, q, args...); err != nil {
		return nil, notFoundOr(err, "entity", id)
	}

	if upd.ParentID != nil {
		if err := p.refreshPaths(ctx, r.ID); err != nil {
			return nil, err
		}
		return p.GetEntity(ctx, id)
	}
	return r.toModel(), nil
}

// isAncestor walks the parent chain of candidate looking for id.
func (p *Postgres) isAncestor(ctx context.Context, id, candidate string) (bool, error) {
	var found bool
	err := p.db.GetContext(ctx, &found, `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id FROM entities WHERE id = $1
			UNION ALL
			SELECT e.id, e.parent_id FROM entities e JOIN chain c ON e.id = c.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM chain WHERE id = $2)`, candidate, id)
	return found, err
}

// refreshPaths recomputes materialized paths for id's subtree.
func (p *Postgres) refreshPaths(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		WITH RECURSIVE sub AS (
			SELECT e.id,
			       COALESCE((SELECT p.path FROM entities p WHERE p.id = e.parent_id) || '.', '') || e.slug AS new_path
			FROM entities e WHERE e.id = $1
			UNION ALL
			SELECT c.id, s.new_path || '.' || c.slug
			FROM entities c JOIN sub s ON c.parent_id = s.id
		)
		UPDATE entities e SET path = sub.new_path FROM sub WHERE e.id = sub.id`, id)
	return err
}

func (p *Postgres) DeleteEntity(ctx context.Context, id string, cascade bool) ([]string, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var deleted []string
	if cascade {
		err = tx.SelectContext(ctx, &deleted, `
			WITH RECURSIVE sub AS (
				SELECT id FROM entities WHERE id = $1
				UNION ALL
				SELECT e.id FROM entities e JOIN sub s ON e.parent_id = s.id
			)
			DELETE FROM entities WHERE id IN (SELECT id FROM sub) RETURNING id`, id)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET parent_id = NULL WHERE parent_id = $1`, id); err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted = []string{id}
		}
	}
	if len(deleted) == 0 {
		return nil, util.NewNotFoundError("entity", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (p *Postgres) Children(ctx context.Context, id string) ([]*model.Entity, error) {
	var rows []entityRow
	err := p.db.SelectContext(ctx, &rows, `SELECT * FROM entities WHERE parent_id = $1 ORDER BY name`, id)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) Ancestors(ctx context.Context, id string) ([]*model.Entity, error) {
	if _, err := p.GetEntity(ctx, id); err != nil {
		return nil, err
	}
	var rows []entityRow
	err := p.db.SelectContext(ctx, &rows, `
		WITH RECURSIVE chain AS (
			SELECT e.*, 0 AS depth FROM entities e
			WHERE e.id = (SELECT parent_id FROM entities WHERE id = $1)
			UNION ALL
			SELECT e.*, c.depth + 1 FROM entities e JOIN chain c ON e.id = c.parent_id
		)
		SELECT id, name, slug, entity_type_id, parent_id, path, status, state, state_updated_at,
		       description, tags, metadata, device_id, created_at, updated_at
		FROM chain ORDER BY depth`, id)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) Descendants(ctx context.Context, id string, maxDepth int) ([]*model.Entity, error) {
	if _, err := p.GetEntity(ctx, id); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = 1 << 30
	}
	var rows []entityRow
	err := p.db.SelectContext(ctx, &rows, `
		WITH RECURSIVE sub AS (
			SELECT e.*, 1 AS depth FROM entities e WHERE e.parent_id = $1
			UNION ALL
			SELECT e.*, s.depth + 1 FROM entities e JOIN sub s ON e.parent_id = s.id
			WHERE s.depth < $2
		)
		SELECT id, name, slug, entity_type_id, parent_id, path, status, state, state_updated_at,
		       description, tags, metadata, device_id, created_at, updated_at
		FROM sub ORDER BY depth, name`, id, maxDepth)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) Siblings(ctx context.Context, id string) ([]*model.Entity, error) {
	e, err := p.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	var rows []entityRow
	if e.ParentID == nil {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT * FROM entities WHERE parent_id IS NULL AND id <> $1 ORDER BY name`, id)
	} else {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT * FROM entities WHERE parent_id = $1 AND id <> $2 ORDER BY name`, *e.ParentID, id)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) Tree(ctx context.Context, rootID, entityType string, maxDepth int) ([]*model.TreeNode, error) {
	// The tree assembles in memory from one flat query; hierarchies in
	// show installations are small.
	var rows []entityRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM entities`); err != nil {
		return nil, err
	}
	types, err := p.ListEntityTypes(ctx)
	if err != nil {
		return nil, err
	}
	typeNames := make(map[string]string, len(types))
	typeIDs := make(map[string]string, len(types))
	for _, t := range types {
		typeNames[t.ID] = t.Name
		typeIDs[t.Name] = t.ID
	}

	byParent := make(map[string][]*model.Entity)
	byID := make(map[string]*model.Entity)
	for _, r := range rows {
		e := r.toModel()
		byID[e.ID] = e
		parent := ""
		if e.ParentID != nil {
			parent = *e.ParentID
		}
		byParent[parent] = append(byParent[parent], e)
	}

	var build func(e *model.Entity, depth int) *model.TreeNode
	build = func(e *model.Entity, depth int) *model.TreeNode {
		node := &model.TreeNode{
			ID:             e.ID,
			Name:           e.Name,
			Slug:           e.Slug,
			EntityTypeID:   e.EntityTypeID,
			EntityTypeName: typeNames[e.EntityTypeID],
			Status:         e.Status,
			State:          e.State,
			Children:       []*model.TreeNode{},
		}
		if maxDepth > 0 && depth >= maxDepth {
			return node
		}
		for _, c := range byParent[e.ID] {
			node.Children = append(node.Children, build(c, depth+1))
		}
		return node
	}

	var roots []*model.Entity
	if rootID != "" {
		e, ok := byID[rootID]
		if !ok {
			return nil, util.NewNotFoundError("entity", rootID)
		}
		roots = []*model.Entity{e}
	} else {
		wantType := typeIDs[entityType]
		for _, e := range byParent[""] {
			if entityType != "" && e.EntityTypeID != wantType {
				continue
			}
			roots = append(roots, e)
		}
	}
	out := make([]*model.TreeNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r, 1))
	}
	return out, nil
}

func (p *Postgres) UpdateEntityState(ctx context.Context, id string, state model.State, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE entities SET state = $1, state_updated_at = $2 WHERE id = $3`,
		jsonMap(state), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("entity", id)
	}
	return nil
}

func (p *Postgres) TouchEntityState(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE entities SET state_updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("entity", id)
	}
	return nil
}

// --- devices ---

type deviceRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	DeviceType      string         `db:"device_type"`
	HardwareID      string         `db:"hardware_id"`
	FirmwareVersion sql.NullString `db:"firmware_version"`
	IPAddress       sql.NullString `db:"ip_address"`
	Location        jsonMap        `db:"location"`
	Metadata        jsonMap        `db:"metadata"`
	Status          string         `db:"status"`
	LastSeen        sql.NullTime   `db:"last_seen"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r deviceRow) toModel() *model.Device {
	d := &model.Device{
		ID:              r.ID,
		Name:            r.Name,
		DeviceType:      r.DeviceType,
		HardwareID:      r.HardwareID,
		FirmwareVersion: r.FirmwareVersion.String,
		IPAddress:       r.IPAddress.String,
		Location:        r.Location,
		Metadata:        r.Metadata,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.LastSeen.Valid {
		t := r.LastSeen.Time
		d.LastSeen = &t
	}
	return d
}

func (p *Postgres) RegisterDevice(ctx context.Context, d *model.Device) error {
	d.ID = newID(d.ID)
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	if d.Status == "" {
		d.Status = model.DeviceOnline
	}
	d.LastSeen = &now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, device_type, hardware_id, firmware_version, ip_address,
		                     location, metadata, status, last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $11)`,
		d.ID, d.Name, d.DeviceType, d.HardwareID, d.FirmwareVersion, d.IPAddress,
		jsonMap(d.Location), jsonMap(d.Metadata), d.Status, now, now)
	if isUniqueViolation(err) {
		return util.NewConflictError("device", d.HardwareID, "hardware_id already registered")
	}
	return err
}

func (p *Postgres) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var r deviceRow
	if err := p.db.GetContext(ctx, &r, `SELECT * FROM devices WHERE id = $1`, id); err != nil {
		return nil, notFoundOr(err, "device", id)
	}
	return r.toModel(), nil
}

func (p *Postgres) GetDeviceByHardwareID(ctx context.Context, hardwareID string) (*model.Device, error) {
	var r deviceRow
	if err := p.db.GetContext(ctx, &r, `SELECT * FROM devices WHERE hardware_id = $1`, hardwareID); err != nil {
		return nil, notFoundOr(err, "device", hardwareID)
	}
	return r.toModel(), nil
}

func (p *Postgres) ListDevices(ctx context.Context, deviceType string, limit, offset int) ([]*model.Device, error) {
	q := `SELECT * FROM devices`
	var args []any
	if deviceType != "" {
		args = append(args, deviceType)
		q += ` WHERE device_type = $1`
	}
	q += ` ORDER BY created_at`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	var rows []deviceRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) DeviceHeartbeat(ctx context.Context, hb model.DeviceHeartbeat, at time.Time) (*model.Device, error) {
	status := hb.Status
	if status == "" {
		status = model.DeviceOnline
	}
	var r deviceRow
	var err error
	if hb.Metadata != nil {
		err = p.db.GetContext(ctx, &r, `
			UPDATE devices SET status = $1, last_seen = $2, updated_at = $2, metadata = $3
			WHERE hardware_id = $4 RETURNING *`,
			status, at, jsonMap(hb.Metadata), hb.HardwareID)
	} else {
		err = p.db.GetContext(ctx, &r, `
			UPDATE devices SET status = $1, last_seen = $2, updated_at = $2
			WHERE hardware_id = $3 RETURNING *`,
			status, at, hb.HardwareID)
	}
	if err != nil {
		return nil, notFoundOr(err, "device", hb.HardwareID)
	}
	return r.toModel(), nil
}

func (p *Postgres) DeleteDevice(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("device", id)
	}
	return nil
}

// --- counts ---

func (p *Postgres) Counts(ctx context.Context) (int, int, error) {
	var entities, devices int
	if err := p.db.GetContext(ctx, &entities, `SELECT count(*) FROM entities`); err != nil {
		return 0, 0, err
	}
	if err := p.db.GetContext(ctx, &devices, `SELECT count(*) FROM devices`); err != nil {
		return 0, 0, err
	}
	return entities, devices, nil
}

// --- stream types ---

type streamTypeRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	DisplayName string         `db:"display_name"`
	Transport   sql.NullString `db:"transport"`
	Metadata    jsonMap        `db:"metadata"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (p *Postgres) CreateStreamType(ctx context.Context, st *model.StreamType) error {
	st.ID = newID(st.ID)
	st.CreatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO stream_types (id, name, display_name, transport, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		st.ID, st.Name, st.DisplayName, st.Transport, jsonMap(st.Metadata), st.CreatedAt)
	if isUniqueViolation(err) {
		return util.NewConflictError("stream type", st.Name, "name must be unique")
	}
	return err
}

func (p *Postgres) ListStreamTypes(ctx context.Context) ([]*model.StreamType, error) {
	var rows []streamTypeRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM stream_types ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]*model.StreamType, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.StreamType{
			ID:          r.ID,
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Transport:   r.Transport.String,
			Metadata:    r.Metadata,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Postgres is the production Recorder, writing to the analytics tables
// (state_history, session_history, device_metrics, device_events,
// show_annotations, collection_config).
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an existing handle, usually shared with the
// catalog store.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Close is a no-op; the shared handle is owned by the catalog store.
func (p *Postgres) Close() error { return nil }

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func (p *Postgres) RecordStateChange(ctx context.Context, rec model.StateHistory) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO state_history (time, entity_id, slug, entity_type, path, state, previous_state, changed_keys, source)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''))`,
		rec.Time, rec.EntityID, rec.Slug, rec.EntityType, rec.Path,
		mustJSON(rec.State), mustJSON(rec.PreviousState), mustJSON(rec.ChangedKeys), rec.Source)
	return err
}

func (p *Postgres) RecordSessionStart(ctx context.Context, rec model.SessionHistory) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_history (session_id, stream_id, stream_name, stream_type, publisher_id,
		                             consumer_id, protocol, started_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.SessionID, rec.StreamID, rec.StreamName, rec.StreamType, rec.PublisherID,
		rec.ConsumerID, rec.Protocol, rec.StartedAt, rec.Status, mustJSON(rec.Metadata))
	return err
}

func (p *Postgres) RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time, status, errorMessage string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE session_history
		SET ended_at = $1,
		    duration_seconds = EXTRACT(EPOCH FROM ($1 - started_at)),
		    status = $2,
		    error_message = NULLIF($3, '')
		WHERE session_id = $4`,
		endedAt, status, errorMessage, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("session history", sessionID)
	}
	return nil
}

func (p *Postgres) RecordMetric(ctx context.Context, m model.Metric) error {
	return p.RecordMetrics(ctx, []model.Metric{m})
}

func (p *Postgres) RecordMetrics(ctx context.Context, ms []model.Metric) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, m := range ms {
		t := m.Time
		if t.IsZero() {
			t = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_metrics (time, device_id, metric_name, metric_value, unit, tags)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
			t, m.DeviceID, m.MetricName, m.MetricValue, m.Unit, mustJSON(m.Tags)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) RecordEvent(ctx context.Context, ev model.DeviceEvent) error {
	t := ev.Time
	if t.IsZero() {
		t = time.Now().UTC()
	}
	severity := ev.Severity
	if severity == "" {
		severity = "info"
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO device_events (time, device_id, event_type, severity, message, data)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		t, ev.DeviceID, ev.EventType, severity, ev.Message, mustJSON(ev.Data))
	return err
}

type sessionHistoryRow struct {
	SessionID        string          `db:"session_id"`
	StreamID         string          `db:"stream_id"`
	StreamName       string          `db:"stream_name"`
	StreamType       string          `db:"stream_type"`
	PublisherID      string          `db:"publisher_id"`
	ConsumerID       string          `db:"consumer_id"`
	Protocol         string          `db:"protocol"`
	StartedAt        time.Time       `db:"started_at"`
	EndedAt          sql.NullTime    `db:"ended_at"`
	DurationSeconds  sql.NullFloat64 `db:"duration_seconds"`
	BytesTransferred sql.NullInt64   `db:"bytes_transferred"`
	Status           string          `db:"status"`
	ErrorMessage     sql.NullString  `db:"error_message"`
	Metadata         []byte          `db:"metadata"`
}

func (r sessionHistoryRow) toModel() *model.SessionHistory {
	s := &model.SessionHistory{
		SessionID:        r.SessionID,
		StreamID:         r.StreamID,
		StreamName:       r.StreamName,
		StreamType:       r.StreamType,
		PublisherID:      r.PublisherID,
		ConsumerID:       r.ConsumerID,
		Protocol:         r.Protocol,
		StartedAt:        r.StartedAt,
		BytesTransferred: r.BytesTransferred.Int64,
		Status:           r.Status,
		ErrorMessage:     r.ErrorMessage.String,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		s.EndedAt = &t
	}
	if r.DurationSeconds.Valid {
		d := r.DurationSeconds.Float64
		s.DurationSeconds = &d
	}
	if len(r.Metadata) > 0 {
		json.Unmarshal(r.Metadata, &s.Metadata)
	}
	return s
}

func (p *Postgres) SessionHistory(ctx context.Context, streamID string, limit int) ([]*model.SessionHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT * FROM session_history`
	args := []any{}
	if streamID != "" {
		args = append(args, streamID)
		q += ` WHERE stream_id = $1`
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	var rows []sessionHistoryRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.SessionHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) CreateAnnotation(ctx context.Context, a *model.Annotation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
	if a.Category == "" {
		a.Category = "general"
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO show_annotations (id, time, title, description, category, tags, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		a.ID, a.Time, a.Title, a.Description, a.Category, mustJSON(a.Tags), mustJSON(a.Metadata))
	return err
}

type annotationRow struct {
	ID          string         `db:"id"`
	Time        time.Time      `db:"time"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	Category    string         `db:"category"`
	Tags        []byte         `db:"tags"`
	Metadata    []byte         `db:"metadata"`
}

func (r annotationRow) toModel() *model.Annotation {
	a := &model.Annotation{
		ID:          r.ID,
		Time:        r.Time,
		Title:       r.Title,
		Description: r.Description.String,
		Category:    r.Category,
		Tags:        []string{},
		Metadata:    map[string]any{},
	}
	if len(r.Tags) > 0 {
		json.Unmarshal(r.Tags, &a.Tags)
	}
	if len(r.Metadata) > 0 {
		json.Unmarshal(r.Metadata, &a.Metadata)
	}
	return a
}

func (p *Postgres) ListAnnotations(ctx context.Context, category string, from, to *time.Time, limit int) ([]*model.Annotation, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT * FROM show_annotations WHERE 1=1`
	var args []any
	if category != "" {
		args = append(args, category)
		q += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if from != nil {
		args = append(args, *from)
		q += fmt.Sprintf(` AND time >= $%d`, len(args))
	}
	if to != nil {
		args = append(args, *to)
		q += fmt.Sprintf(` AND time <= $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY time DESC LIMIT $%d`, len(args))

	var rows []annotationRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*model.Annotation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) UpdateAnnotation(ctx context.Context, a *model.Annotation) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE show_annotations
		SET title = $1, description = NULLIF($2, ''), category = $3, tags = $4, metadata = $5
		WHERE id = $6`,
		a.Title, a.Description, a.Category, mustJSON(a.Tags), mustJSON(a.Metadata), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("annotation", a.ID)
	}
	return nil
}

func (p *Postgres) DeleteAnnotation(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM show_annotations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("annotation", id)
	}
	return nil
}

func (p *Postgres) Summary(ctx context.Context, from, to time.Time) (*model.ShowSummary, error) {
	s := &model.ShowSummary{From: from, To: to}
	counts := []struct {
		table string
		col   string
		dst   *int
	}{
		{"device_metrics", "time", &s.MetricCount},
		{"device_events", "time", &s.EventCount},
		{"state_history", "time", &s.StateChangeCount},
		{"session_history", "started_at", &s.SessionCount},
		{"show_annotations", "time", &s.AnnotationCount},
	}
	for _, c := range counts {
		q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s BETWEEN $1 AND $2`, c.table, c.col)
		if err := p.db.GetContext(ctx, c.dst, q, from, to); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *Postgres) Export(ctx context.Context, dataset string, from, to time.Time) ([]map[string]any, error) {
	var q string
	switch dataset {
	case ExportMetrics:
		q = `SELECT * FROM device_metrics WHERE time BETWEEN $1 AND $2 ORDER BY time`
	case ExportEvents:
		q = `SELECT * FROM device_events WHERE time BETWEEN $1 AND $2 ORDER BY time`
	case ExportStates:
		q = `SELECT * FROM state_history WHERE time BETWEEN $1 AND $2 ORDER BY time`
	case ExportAnnotations:
		q = `SELECT * FROM show_annotations WHERE time BETWEEN $1 AND $2 ORDER BY time`
	default:
		return nil, util.NewValidationError("unknown export dataset: " + dataset)
	}

	rows, err := p.db.QueryxContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				var parsed any
				if json.Unmarshal(b, &parsed) == nil {
					row[k] = parsed
				} else {
					row[k] = string(b)
				}
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type collectionConfigRow struct {
	ID        string         `db:"id"`
	ScopeType string         `db:"scope_type"`
	ScopeID   sql.NullString `db:"scope_id"`
	Verbosity string         `db:"verbosity"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (p *Postgres) ListCollectionConfigs(ctx context.Context) ([]*model.CollectionConfig, error) {
	var rows []collectionConfigRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT * FROM collection_config ORDER BY scope_type`); err != nil {
		return nil, err
	}
	out := make([]*model.CollectionConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.CollectionConfig{
			ID:        r.ID,
			ScopeType: r.ScopeType,
			ScopeID:   r.ScopeID.String,
			Verbosity: r.Verbosity,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

func (p *Postgres) PutCollectionConfig(ctx context.Context, cc *model.CollectionConfig) error {
	switch cc.Verbosity {
	case model.VerbosityMinimal, model.VerbosityStandard, model.VerbosityVerbose:
	default:
		return util.NewValidationError("invalid verbosity: " + cc.Verbosity)
	}
	switch cc.ScopeType {
	case model.ScopeDevice, model.ScopeEntityType, model.ScopeGlobal:
	default:
		return util.NewValidationError("invalid scope_type: " + cc.ScopeType)
	}
	if cc.ID == "" {
		cc.ID = uuid.NewString()
	}
	cc.UpdatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO collection_config (id, scope_type, scope_id, verbosity, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (scope_type, scope_id)
		DO UPDATE SET verbosity = EXCLUDED.verbosity, updated_at = EXCLUDED.updated_at`,
		cc.ID, cc.ScopeType, cc.ScopeID, cc.Verbosity, cc.UpdatedAt)
	return err
}

func (p *Postgres) DeleteCollectionConfig(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM collection_config WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return util.NewNotFoundError("collection config", id)
	}
	return nil
}

func (p *Postgres) ResolveVerbosity(ctx context.Context, entityType, deviceID string) (string, error) {
	lookup := func(q string, args ...any) (string, error) {
		var v string
		err := p.db.GetContext(ctx, &v, q, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return v, err
	}

	if deviceID != "" {
		v, err := lookup(`SELECT verbosity FROM collection_config WHERE scope_type = 'device' AND scope_id = $1`, deviceID)
		if err != nil || v != "" {
			return orStandard(v), err
		}
	}
	if entityType != "" {
		v, err := lookup(`SELECT verbosity FROM collection_config WHERE scope_type = 'entity_type' AND scope_id = $1`, entityType)
		if err != nil || v != "" {
			return orStandard(v), err
		}
	}
	v, err := lookup(`SELECT verbosity FROM collection_config WHERE scope_type = 'global' AND scope_id IS NULL`)
	return orStandard(v), err
}

func orStandard(v string) string {
	if v == "" {
		return model.VerbosityStandard
	}
	return v
}

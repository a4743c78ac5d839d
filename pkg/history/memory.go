package history

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Memory is the in-process Recorder used by tests and database-less
// development.
type Memory struct {
	mu sync.RWMutex

	states      []model.StateHistory
	sessions    map[string]*model.SessionHistory
	sessionIDs  []string
	metrics     []model.Metric
	events      []model.DeviceEvent
	annotations map[string]*model.Annotation
	configs     map[string]*model.CollectionConfig
}

// NewMemory creates an empty recorder.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*model.SessionHistory),
		annotations: make(map[string]*model.Annotation),
		configs:     make(map[string]*model.CollectionConfig),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) RecordStateChange(_ context.Context, rec model.StateHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	m.states = append(m.states, rec)
	return nil
}

// StateChanges returns recorded transitions for inspection in tests.
func (m *Memory) StateChanges() []model.StateHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.StateHistory, len(m.states))
	copy(out, m.states)
	return out
}

func (m *Memory) RecordSessionStart(_ context.Context, rec model.SessionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.sessions[rec.SessionID] = &cp
	m.sessionIDs = append(m.sessionIDs, rec.SessionID)
	return nil
}

func (m *Memory) RecordSessionEnd(_ context.Context, sessionID string, endedAt time.Time, status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return util.NewNotFoundError("session history", sessionID)
	}
	s.EndedAt = &endedAt
	dur := endedAt.Sub(s.StartedAt).Seconds()
	s.DurationSeconds = &dur
	s.Status = status
	s.ErrorMessage = errorMessage
	return nil
}

func (m *Memory) RecordMetric(_ context.Context, metric model.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if metric.Time.IsZero() {
		metric.Time = time.Now().UTC()
	}
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *Memory) RecordMetrics(ctx context.Context, ms []model.Metric) error {
	for _, metric := range ms {
		if err := m.RecordMetric(ctx, metric); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) RecordEvent(_ context.Context, ev model.DeviceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = "info"
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) SessionHistory(_ context.Context, streamID string, limit int) ([]*model.SessionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.SessionHistory
	// Newest first.
	for i := len(m.sessionIDs) - 1; i >= 0; i-- {
		s := m.sessions[m.sessionIDs[i]]
		if streamID != "" && s.StreamID != streamID {
			continue
		}
		cp := *s
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CreateAnnotation(_ context.Context, a *model.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
	if a.Category == "" {
		a.Category = "general"
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	cp := *a
	m.annotations[a.ID] = &cp
	return nil
}

func (m *Memory) ListAnnotations(_ context.Context, category string, from, to *time.Time, limit int) ([]*model.Annotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Annotation
	for _, a := range m.annotations {
		if category != "" && a.Category != category {
			continue
		}
		if from != nil && a.Time.Before(*from) {
			continue
		}
		if to != nil && a.Time.After(*to) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateAnnotation(_ context.Context, a *model.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.annotations[a.ID]
	if !ok {
		return util.NewNotFoundError("annotation", a.ID)
	}
	if a.Time.IsZero() {
		a.Time = existing.Time
	}
	cp := *a
	m.annotations[a.ID] = &cp
	return nil
}

func (m *Memory) DeleteAnnotation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.annotations[id]; !ok {
		return util.NewNotFoundError("annotation", id)
	}
	delete(m.annotations, id)
	return nil
}

func (m *Memory) Summary(_ context.Context, from, to time.Time) (*model.ShowSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	within := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }

	s := &model.ShowSummary{From: from, To: to}
	for _, metric := range m.metrics {
		if within(metric.Time) {
			s.MetricCount++
		}
	}
	for _, ev := range m.events {
		if within(ev.Time) {
			s.EventCount++
		}
	}
	for _, st := range m.states {
		if within(st.Time) {
			s.StateChangeCount++
		}
	}
	for _, sess := range m.sessions {
		if within(sess.StartedAt) {
			s.SessionCount++
		}
	}
	for _, a := range m.annotations {
		if within(a.Time) {
			s.AnnotationCount++
		}
	}
	return s, nil
}

func (m *Memory) Export(ctx context.Context, dataset string, from, to time.Time) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	within := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }

	var out []map[string]any
	switch dataset {
	case ExportMetrics:
		for _, metric := range m.metrics {
			if within(metric.Time) {
				out = append(out, toRow(metric))
			}
		}
	case ExportEvents:
		for _, ev := range m.events {
			if within(ev.Time) {
				out = append(out, toRow(ev))
			}
		}
	case ExportStates:
		for _, st := range m.states {
			if within(st.Time) {
				out = append(out, toRow(st))
			}
		}
	case ExportAnnotations:
		for _, a := range m.annotations {
			if within(a.Time) {
				out = append(out, toRow(a))
			}
		}
	default:
		return nil, util.NewValidationError("unknown export dataset: " + dataset)
	}
	return out, nil
}

func toRow(v any) map[string]any {
	data, _ := json.Marshal(v)
	var row map[string]any
	json.Unmarshal(data, &row)
	return row
}

func (m *Memory) ListCollectionConfigs(_ context.Context) ([]*model.CollectionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.CollectionConfig, 0, len(m.configs))
	for _, cc := range m.configs {
		cp := *cc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeType < out[j].ScopeType })
	return out, nil
}

func (m *Memory) PutCollectionConfig(_ context.Context, cc *model.CollectionConfig) error {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	if cc.ID == "" {
		// One config per (scope_type, scope_id); reuse the slot.
		for _, existing := range m.configs {
			if existing.ScopeType == cc.ScopeType && existing.ScopeID == cc.ScopeID {
				cc.ID = existing.ID
				break
			}
		}
		if cc.ID == "" {
			cc.ID = uuid.NewString()
		}
	}
	cc.UpdatedAt = time.Now().UTC()
	cp := *cc
	m.configs[cc.ID] = &cp
	return nil
}

func (m *Memory) DeleteCollectionConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return util.NewNotFoundError("collection config", id)
	}
	delete(m.configs, id)
	return nil
}

func (m *Memory) ResolveVerbosity(_ context.Context, entityType, deviceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lookup := func(scopeType, scopeID string) string {
		for _, cc := range m.configs {
			if cc.ScopeType == scopeType && cc.ScopeID == scopeID {
				return cc.Verbosity
			}
		}
		return ""
	}
	if deviceID != "" {
		if v := lookup(model.ScopeDevice, deviceID); v != "" {
			return v, nil
		}
	}
	if entityType != "" {
		if v := lookup(model.ScopeEntityType, entityType); v != "" {
			return v, nil
		}
	}
	if v := lookup(model.ScopeGlobal, ""); v != "" {
		return v, nil
	}
	return model.VerbosityStandard, nil
}

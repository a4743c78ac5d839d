package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

func TestResolveVerbosityOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	put := func(scopeType, scopeID, verbosity string) {
		t.Helper()
		err := m.PutCollectionConfig(ctx, &model.CollectionConfig{
			ScopeType: scopeType, ScopeID: scopeID, Verbosity: verbosity,
		})
		if err != nil {
			t.Fatalf("PutCollectionConfig(%s/%s): %v", scopeType, scopeID, err)
		}
	}

	if v, _ := m.ResolveVerbosity(ctx, "light", "dev-1"); v != model.VerbosityStandard {
		t.Errorf("no config: got %q, want standard", v)
	}

	put(model.ScopeGlobal, "", model.VerbosityMinimal)
	if v, _ := m.ResolveVerbosity(ctx, "light", "dev-1"); v != model.VerbosityMinimal {
		t.Errorf("global: got %q, want minimal", v)
	}

	put(model.ScopeEntityType, "light", model.VerbosityVerbose)
	if v, _ := m.ResolveVerbosity(ctx, "light", "dev-1"); v != model.VerbosityVerbose {
		t.Errorf("entity type beats global: got %q, want verbose", v)
	}

	put(model.ScopeDevice, "dev-1", model.VerbosityStandard)
	if v, _ := m.ResolveVerbosity(ctx, "light", "dev-1"); v != model.VerbosityStandard {
		t.Errorf("device beats entity type: got %q, want standard", v)
	}

	// An unrelated device still sees the entity type config.
	if v, _ := m.ResolveVerbosity(ctx, "light", "dev-2"); v != model.VerbosityVerbose {
		t.Errorf("other device: got %q, want verbose", v)
	}
}

func TestPutCollectionConfigValidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.PutCollectionConfig(ctx, &model.CollectionConfig{
		ScopeType: model.ScopeGlobal, Verbosity: "chatty",
	})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bad verbosity: got %v", err)
	}

	err = m.PutCollectionConfig(ctx, &model.CollectionConfig{
		ScopeType: "planet", Verbosity: model.VerbosityStandard,
	})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bad scope: got %v", err)
	}
}

func TestPutCollectionConfigReusesScopeSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first := &model.CollectionConfig{ScopeType: model.ScopeEntityType, ScopeID: "light", Verbosity: model.VerbosityMinimal}
	if err := m.PutCollectionConfig(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &model.CollectionConfig{ScopeType: model.ScopeEntityType, ScopeID: "light", Verbosity: model.VerbosityVerbose}
	if err := m.PutCollectionConfig(ctx, second); err != nil {
		t.Fatal(err)
	}

	if second.ID != first.ID {
		t.Errorf("same scope should reuse config id: %q vs %q", second.ID, first.ID)
	}
	configs, _ := m.ListCollectionConfigs(ctx)
	if len(configs) != 1 {
		t.Fatalf("configs = %d, want 1", len(configs))
	}
	if configs[0].Verbosity != model.VerbosityVerbose {
		t.Errorf("verbosity = %q, want verbose", configs[0].Verbosity)
	}
}

func TestSessionEndComputesDuration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	if err := m.RecordSessionStart(ctx, model.SessionHistory{
		SessionID: "sess-1", StreamID: "str-1", StartedAt: start, Status: "active",
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordSessionEnd(ctx, "sess-1", start.Add(90*time.Second), "stopped", ""); err != nil {
		t.Fatal(err)
	}

	sessions, _ := m.SessionHistory(ctx, "str-1", 0)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.Status != "stopped" || s.DurationSeconds == nil || *s.DurationSeconds != 90 {
		t.Errorf("session = status %q duration %v", s.Status, s.DurationSeconds)
	}

	if err := m.RecordSessionEnd(ctx, "missing", time.Now(), "stopped", ""); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("unknown session: got %v", err)
	}
}

func TestSessionHistoryFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	for i, streamID := range []string{"a", "a", "b"} {
		m.RecordSessionStart(ctx, model.SessionHistory{
			SessionID: string(rune('s')) + string(rune('0'+i)),
			StreamID:  streamID,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, _ := m.SessionHistory(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
	byStream, _ := m.SessionHistory(ctx, "a", 0)
	if len(byStream) != 2 {
		t.Errorf("stream a = %d, want 2", len(byStream))
	}
	limited, _ := m.SessionHistory(ctx, "", 1)
	if len(limited) != 1 || limited[0].StreamID != "b" {
		t.Errorf("limit 1 should return newest, got %+v", limited)
	}
}

func TestSummaryAndExportWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	in := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)
	out := in.Add(2 * time.Hour)

	m.RecordMetric(ctx, model.Metric{Time: in, DeviceID: "dev-1", MetricName: "temp", MetricValue: 42})
	m.RecordMetric(ctx, model.Metric{Time: out, DeviceID: "dev-1", MetricName: "temp", MetricValue: 43})
	m.RecordEvent(ctx, model.DeviceEvent{Time: in, DeviceID: "dev-1", EventType: "boot"})
	m.RecordStateChange(ctx, model.StateHistory{Time: in, EntityID: "e1", Slug: "lamp1"})
	m.CreateAnnotation(ctx, &model.Annotation{Time: in, Title: "doors open"})

	from, to := in.Add(-time.Hour), in.Add(time.Hour)
	s, err := m.Summary(ctx, from, to)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.MetricCount != 1 || s.EventCount != 1 || s.StateChangeCount != 1 || s.AnnotationCount != 1 {
		t.Errorf("summary = %+v", s)
	}

	rows, err := m.Export(ctx, ExportMetrics, from, to)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("export rows = %d, want 1", len(rows))
	}
	if rows[0]["metric_name"] != "temp" {
		t.Errorf("export row = %+v", rows[0])
	}

	if _, err := m.Export(ctx, "bogus", from, to); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bad dataset: got %v", err)
	}
}

func TestAnnotationDefaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := &model.Annotation{Title: "cue 12"}
	if err := m.CreateAnnotation(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.Category != "general" || a.Time.IsZero() {
		t.Errorf("defaults not applied: %+v", a)
	}

	a.Description = "pyro standby"
	if err := m.UpdateAnnotation(ctx, a); err != nil {
		t.Fatal(err)
	}
	list, _ := m.ListAnnotations(ctx, "general", nil, nil, 0)
	if len(list) != 1 || list[0].Description != "pyro standby" {
		t.Errorf("annotations = %+v", list)
	}

	if err := m.DeleteAnnotation(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteAnnotation(ctx, a.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordansnyder/maestra-core/internal/testutil"
	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/state"
	"github.com/jordansnyder/maestra-core/pkg/store"
	"github.com/jordansnyder/maestra-core/pkg/stream"
)

type apiFixture struct {
	srv      *httptest.Server
	store    *store.Memory
	subjects *testutil.FakeBus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	_, client := testutil.NewRedis(t)
	st := store.NewMemory()
	rec := history.NewMemory()
	subjects := testutil.NewFakeBus()
	fan := bus.NewFanout(subjects, nil)

	engine := state.NewEngine(st, rec, fan)
	registry := stream.NewRegistry(ephemeral.New(client), fan, rec)
	negotiator := stream.NewNegotiator(registry)

	srv := httptest.NewServer(New(st, engine, registry, negotiator, rec, fan).Router())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, store: st, subjects: subjects}
}

// do issues a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (f *apiFixture) seedType(t *testing.T) model.EntityType {
	t.Helper()
	var et model.EntityType
	code := f.do(t, http.MethodPost, "/entities/types", model.EntityType{
		Name:         "light",
		DisplayName:  "Light",
		DefaultState: model.State{"on": false, "brightness": float64(0)},
	}, &et)
	if code != http.StatusCreated {
		t.Fatalf("create type: status %d", code)
	}
	return et
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]any
	if code := f.do(t, http.MethodGet, "/health", nil, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["status"] != "healthy" || body["service"] != "maestra-core" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatusCounts(t *testing.T) {
	f := newAPIFixture(t)
	et := f.seedType(t)
	f.do(t, http.MethodPost, "/entities", model.EntityCreate{Name: "Lamp", EntityTypeID: et.ID}, nil)

	var body map[string]any
	if code := f.do(t, http.MethodGet, "/status", nil, &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body["entities"] != float64(1) {
		t.Fatalf("entities = %v, want 1", body["entities"])
	}
	if body["bus_connected"] != true {
		t.Fatalf("bus_connected = %v", body["bus_connected"])
	}
}

func TestEntityLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	et := f.seedType(t)

	var ent model.Entity
	code := f.do(t, http.MethodPost, "/entities", model.EntityCreate{
		Name:         "Lamp One",
		EntityTypeID: et.ID,
		State:        model.State{"brightness": float64(40)},
	}, &ent)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d", code)
	}
	if ent.Slug != "lamp-one" {
		t.Fatalf("slug = %q", ent.Slug)
	}
	if ent.State["on"] != false || ent.State["brightness"] != float64(40) {
		t.Fatalf("merged state = %v", ent.State)
	}

	var bySlug model.Entity
	if code := f.do(t, http.MethodGet, "/entities/by-slug/lamp-one", nil, &bySlug); code != http.StatusOK {
		t.Fatalf("by-slug: status %d", code)
	}
	if bySlug.ID != ent.ID {
		t.Fatalf("by-slug returned %s, want %s", bySlug.ID, ent.ID)
	}

	var patched model.StateResponse
	code = f.do(t, http.MethodPatch, "/entities/"+ent.ID+"/state",
		map[string]any{"state": map[string]any{"on": true}}, &patched)
	if code != http.StatusOK {
		t.Fatalf("patch: status %d", code)
	}
	if patched.State["on"] != true || patched.State["brightness"] != float64(40) {
		t.Fatalf("patched state = %v", patched.State)
	}

	events := f.subjects.Published("maestra.entity.state.light.lamp-one")
	if len(events) != 1 {
		t.Fatalf("state events = %d, want 1", len(events))
	}
	var ev model.StateChangedEvent
	if err := json.Unmarshal(events[0].Payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if len(ev.ChangedKeys) != 1 || ev.ChangedKeys[0] != "on" {
		t.Fatalf("changed_keys = %v", ev.ChangedKeys)
	}

	if code := f.do(t, http.MethodDelete, "/entities/"+ent.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	if code := f.do(t, http.MethodGet, "/entities/"+ent.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", code)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	f.seedType(t)

	var detail map[string]string
	if code := f.do(t, http.MethodGet, "/entities/nope", nil, &detail); code != http.StatusNotFound {
		t.Fatalf("missing entity: status %d", code)
	}
	if detail["detail"] == "" {
		t.Fatal("error body missing detail field")
	}

	// Duplicate type name conflicts.
	code := f.do(t, http.MethodPost, "/entities/types", model.EntityType{Name: "light"}, nil)
	if code != http.StatusConflict {
		t.Fatalf("duplicate type: status %d", code)
	}

	// Missing required registration fields fail validation.
	code = f.do(t, http.MethodPost, "/devices/register", model.DeviceRegistration{Name: "bare"}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid registration: status %d", code)
	}

	// Malformed JSON is a plain bad request.
	code = f.do(t, http.MethodPost, "/entities", `{"name": `, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d", code)
	}
}

func TestDeviceRegistration(t *testing.T) {
	f := newAPIFixture(t)

	reg := model.DeviceRegistration{Name: "ESP One", DeviceType: "esp32", HardwareID: "aa:bb:cc"}
	var dev model.Device
	if code := f.do(t, http.MethodPost, "/devices/register", reg, &dev); code != http.StatusCreated {
		t.Fatalf("register: status %d", code)
	}
	if dev.Status != model.DeviceOnline {
		t.Fatalf("status = %q", dev.Status)
	}

	if code := f.do(t, http.MethodPost, "/devices/register", reg, nil); code != http.StatusConflict {
		t.Fatalf("re-register: status %d", code)
	}

	var beat model.Device
	code := f.do(t, http.MethodPost, "/devices/heartbeat", model.DeviceHeartbeat{HardwareID: "aa:bb:cc"}, &beat)
	if code != http.StatusOK {
		t.Fatalf("heartbeat: status %d", code)
	}
	if beat.LastSeen == nil {
		t.Fatal("heartbeat did not stamp last_seen")
	}
}

func TestSessionRoutesPrecedeStreamID(t *testing.T) {
	f := newAPIFixture(t)

	// /streams/sessions must not be swallowed by /streams/{id}.
	var sessions []any
	if code := f.do(t, http.MethodGet, "/streams/sessions", nil, &sessions); code != http.StatusOK {
		t.Fatalf("session list: status %d", code)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty session list, got %v", sessions)
	}

	if code := f.do(t, http.MethodGet, "/streams/no-such-stream", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing stream: status %d", code)
	}
}

func TestStreamAdvertiseOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	var advertised model.Stream
	code := f.do(t, http.MethodPost, "/streams/advertise", model.StreamAdvertise{
		Name:        "fft-main",
		StreamType:  "audio",
		PublisherID: "analyzer-1",
		Address:     "10.0.0.5",
		Port:        9100,
	}, &advertised)
	if code != http.StatusCreated {
		t.Fatalf("advertise: status %d", code)
	}

	var snapshot map[string]any
	if code := f.do(t, http.MethodGet, "/streams/state", nil, &snapshot); code != http.StatusOK {
		t.Fatalf("stream state: status %d", code)
	}
	streams, _ := snapshot["streams"].([]any)
	if len(streams) != 1 {
		t.Fatalf("streams in snapshot = %d, want 1", len(streams))
	}

	if code := f.do(t, http.MethodDelete, "/streams/"+advertised.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("withdraw: status %d", code)
	}
	if code := f.do(t, http.MethodDelete, "/streams/"+advertised.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("double withdraw: status %d", code)
	}
}

func TestRoutingStateSnapshot(t *testing.T) {
	f := newAPIFixture(t)

	var dev model.RoutingDevice
	code := f.do(t, http.MethodPost, "/routing/devices", model.RoutingDevice{
		Name:       "Mixer",
		DeviceType: "mixer",
		Outputs:    []string{"main", "aux-1"},
	}, &dev)
	if code != http.StatusCreated {
		t.Fatalf("create routing device: status %d", code)
	}

	var snap model.RoutingState
	if code := f.do(t, http.MethodGet, "/routing/state", nil, &snap); code != http.StatusOK {
		t.Fatalf("routing state: status %d", code)
	}
	if len(snap.Devices) != 1 || len(snap.Routes) != 0 {
		t.Fatalf("snapshot devices=%d routes=%d", len(snap.Devices), len(snap.Routes))
	}
}

func TestAnnotationsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	var a model.Annotation
	code := f.do(t, http.MethodPost, "/analytics/annotations",
		model.Annotation{Title: "doors open", Category: "show"}, &a)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d", code)
	}
	if a.ID == "" {
		t.Fatal("annotation id not assigned")
	}

	var listed []model.Annotation
	if code := f.do(t, http.MethodGet, "/analytics/annotations?category=show", nil, &listed); code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	if len(listed) != 1 || listed[0].Title != "doors open" {
		t.Fatalf("listed = %v", listed)
	}

	code = f.do(t, http.MethodPost, "/analytics/annotations", model.Annotation{Category: "show"}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("untitled annotation: status %d", code)
	}
}

func TestExportFormats(t *testing.T) {
	f := newAPIFixture(t)

	code := f.do(t, http.MethodPost, "/metrics", model.Metric{
		DeviceID:    "dev-1",
		MetricName:  "temperature",
		MetricValue: 21.5,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("record metric: status %d", code)
	}

	var body map[string]any
	if code := f.do(t, http.MethodGet, "/analytics/export/metrics", nil, &body); code != http.StatusOK {
		t.Fatalf("json export: status %d", code)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("json rows = %d, want 1", len(rows))
	}

	resp, err := f.srv.Client().Get(f.srv.URL + "/analytics/export/metrics?format=csv")
	if err != nil {
		t.Fatalf("csv export: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	var csvBody bytes.Buffer
	csvBody.ReadFrom(resp.Body)
	if !strings.Contains(csvBody.String(), "temperature") {
		t.Fatalf("csv missing metric row:\n%s", csvBody.String())
	}

	if code := f.do(t, http.MethodGet, "/analytics/export/nope", nil, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown dataset: status %d", code)
	}
}

func TestBulkUpdateOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	et := f.seedType(t)
	for i := 1; i <= 2; i++ {
		f.do(t, http.MethodPost, "/entities", model.EntityCreate{
			Name:         fmt.Sprintf("Lamp %d", i),
			EntityTypeID: et.ID,
		}, nil)
	}

	var body map[string]any
	code := f.do(t, http.MethodPost, "/entities/state/bulk-update", map[string]any{
		"updates": map[string]any{
			"lamp-1":  map[string]any{"on": true},
			"missing": map[string]any{"on": true},
		},
	}, &body)
	if code != http.StatusOK {
		t.Fatalf("bulk update: status %d", code)
	}
	results, _ := body["results"].(map[string]any)
	if results["lamp-1"] != "updated" {
		t.Fatalf("lamp-1 result = %v", results["lamp-1"])
	}
	if results["missing"] != "not_found" {
		t.Fatalf("missing result = %v", results["missing"])
	}
}

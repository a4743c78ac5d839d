package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jordansnyder/maestra-core/internal/testutil"
	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/stream"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

type proxyFixture struct {
	proxy      *Proxy
	registry   *stream.Registry
	negotiator *stream.Negotiator
	subjects   *testutil.FakeBus
	redis      *miniredis.Miniredis
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()
	mr, client := testutil.NewRedis(t)
	subjects := testutil.NewFakeBus()
	registry := stream.NewRegistry(ephemeral.New(client), bus.NewFanout(subjects, nil), history.NewMemory())
	negotiator := stream.NewNegotiator(registry)
	return &proxyFixture{
		proxy:      NewProxy(registry, negotiator),
		registry:   registry,
		negotiator: negotiator,
		subjects:   subjects,
		redis:      mr,
	}
}

func (f *proxyFixture) advertise(t *testing.T, streamType string) *model.Stream {
	t.Helper()
	s, err := f.registry.Advertise(context.Background(), model.StreamAdvertise{
		Name: "src", StreamType: streamType, PublisherID: "p1", Address: "10.0.0.5", Port: 9900,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestServeUnknownStream(t *testing.T) {
	f := newProxyFixture(t)
	req := httptest.NewRequest("GET", "/streams/nope/preview", nil)
	err := f.proxy.Serve(httptest.NewRecorder(), req, "nope")
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("unknown stream: got %v", err)
	}
}

func TestServeConnectionInfo(t *testing.T) {
	f := newProxyFixture(t)
	s := f.advertise(t, "ndi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // one info frame, then the client is gone
	req := httptest.NewRequest("GET", "/streams/"+s.ID+"/preview", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	if err := f.proxy.Serve(rec, req, s.ID); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("proxy buffering not disabled")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: info") || !strings.Contains(body, `"mode":"connection_info"`) {
		t.Errorf("body = %q", body)
	}
	// No data plane for connection-info types.
	if strings.Contains(body, "event: preview") {
		t.Errorf("unexpected preview frames: %q", body)
	}
}

func TestServeProxiedRelaysDatagrams(t *testing.T) {
	f := newProxyFixture(t)
	s := f.advertise(t, "sensor")

	ports := make(chan int, 1)
	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, data []byte) ([]byte, error) {
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		consumer, _ := req["consumer_id"].(string)
		if !strings.HasPrefix(consumer, "dashboard-preview-") {
			t.Errorf("consumer_id = %q", consumer)
		}
		ports <- int(req["consumer_port"].(float64))
		return json.Marshal(map[string]any{"accepted": true})
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/streams/"+s.ID+"/preview", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- f.proxy.Serve(rec, req, s.ID) }()

	var port int
	select {
	case port = <-ports:
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation request never arrived")
	}

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write(sampleSDRFBytes()); err != nil {
		t.Fatal(err)
	}

	// Give the relay a moment, then disconnect and wake the read loop.
	time.Sleep(300 * time.Millisecond)
	cancel()
	conn.Write([]byte("wake"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not stop after disconnect")
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"mode":"proxy"`) {
		t.Errorf("missing proxy info frame: %q", body)
	}
	if !strings.Contains(body, "event: preview") || !strings.Contains(body, `"_seq":0`) {
		t.Errorf("missing preview frame: %q", body)
	}
	if !strings.Contains(body, `"power_db":[-40,-35]`) {
		t.Errorf("sensor frame not decoded: %q", body)
	}
}

func TestServeProxiedHeartbeatsWhileDatagramsFlow(t *testing.T) {
	f := newProxyFixture(t)
	s := f.advertise(t, "sensor")

	old := heartbeatInterval
	heartbeatInterval = 0 // every datagram refreshes the session
	t.Cleanup(func() { heartbeatInterval = old })

	ports := make(chan int, 1)
	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, data []byte) ([]byte, error) {
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		ports <- int(req["consumer_port"].(float64))
		return json.Marshal(map[string]any{"accepted": true})
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/streams/"+s.ID+"/preview", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- f.proxy.Serve(rec, req, s.ID) }()

	var port int
	select {
	case port = <-ports:
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation request never arrived")
	}
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Two datagrams with 20 s of simulated clock between them: each one
	// must re-arm the 30 s session TTL, so after 40 s total the session
	// is still live. A session refreshed only during receive timeouts
	// would have expired.
	for i := 0; i < 2; i++ {
		if _, err := conn.Write(sampleSDRFBytes()); err != nil {
			t.Fatal(err)
		}
		time.Sleep(200 * time.Millisecond)
		f.redis.FastForward(ephemeral.RecordTTL - 10*time.Second)
	}

	sessions, err := f.negotiator.ListSessions(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("live sessions = %d, want 1 (session TTL not refreshed on the datagram path)", len(sessions))
	}

	cancel()
	conn.Write([]byte("wake"))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not stop after disconnect")
	}
}

func TestServeProxiedNegotiationFailure(t *testing.T) {
	f := newProxyFixture(t)
	s := f.advertise(t, "osc")
	// Publisher stays silent; the fake bus times the request out fast.

	req := httptest.NewRequest("GET", "/streams/"+s.ID+"/preview", nil)
	rec := httptest.NewRecorder()
	if err := f.proxy.Serve(rec, req, s.ID); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

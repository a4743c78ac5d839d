package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jordansnyder/maestra-core/internal/testutil"
	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

type streamFixture struct {
	registry   *Registry
	negotiator *Negotiator
	recorder   *history.Memory
	subjects   *testutil.FakeBus
	redis      *miniredis.Miniredis
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	mr, client := testutil.NewRedis(t)
	subjects := testutil.NewFakeBus()
	rec := history.NewMemory()
	registry := NewRegistry(ephemeral.New(client), bus.NewFanout(subjects, nil), rec)
	return &streamFixture{
		registry:   registry,
		negotiator: NewNegotiator(registry),
		recorder:   rec,
		subjects:   subjects,
		redis:      mr,
	}
}

func (f *streamFixture) advertise(t *testing.T) *model.Stream {
	t.Helper()
	s, err := f.registry.Advertise(context.Background(), model.StreamAdvertise{
		Name:        "fft-main",
		StreamType:  "audio",
		PublisherID: "analyzer-1",
		Address:     "10.0.0.5",
		Port:        9100,
	})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	return s
}

func TestAdvertiseGetWithdraw(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	s := f.advertise(t)

	got, err := f.registry.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "fft-main" || got.ActiveSessions != 0 {
		t.Errorf("stream = %+v", got)
	}

	if n := len(f.subjects.Published("maestra.stream.advertise.audio")); n != 1 {
		t.Errorf("per-type advertise events = %d, want 1", n)
	}
	// Discovery mirror rides the egress convention.
	if n := len(f.subjects.Published("maestra.to_mqtt.maestra.stream.advertise.audio")); n != 1 {
		t.Errorf("egress mirrors = %d, want 1", n)
	}

	if err := f.registry.Withdraw(ctx, s.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, err := f.registry.Get(ctx, s.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("withdrawn stream: got %v", err)
	}

	// Double withdraw reads as not found, with nothing left to undo.
	if err := f.registry.Withdraw(ctx, s.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("second withdraw: got %v", err)
	}
}

func TestAdvertiseValidation(t *testing.T) {
	f := newStreamFixture(t)
	_, err := f.registry.Advertise(context.Background(), model.StreamAdvertise{Name: "x"})
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bare advertise: got %v", err)
	}
}

func TestListPrunesExpired(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	f.advertise(t)
	s2, err := f.registry.Advertise(ctx, model.StreamAdvertise{
		Name: "osc-cues", StreamType: "osc", PublisherID: "qlab", Address: "10.0.0.6", Port: 9101,
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := f.registry.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("live streams = %d, want 2", len(all))
	}

	// Let both TTLs lapse; the index still holds the ids.
	f.redis.FastForward(ephemeral.RecordTTL + time.Second)

	all, err = f.registry.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expired streams still listed: %d", len(all))
	}
	byType, err := f.registry.List(ctx, "osc")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 0 {
		t.Errorf("expired stream %s still in type index", s2.ID)
	}
}

func TestHeartbeatExtendsTTL(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	s := f.advertise(t)

	f.redis.FastForward(20 * time.Second)
	if _, err := f.registry.Heartbeat(ctx, s.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	f.redis.FastForward(20 * time.Second)

	// 40 s total, but the heartbeat re-armed the 30 s TTL.
	if _, err := f.registry.Get(ctx, s.ID); err != nil {
		t.Errorf("heartbeat did not extend TTL: %v", err)
	}

	f.redis.FastForward(ephemeral.RecordTTL)
	if _, err := f.registry.Heartbeat(ctx, s.ID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("heartbeat on expired stream: got %v", err)
	}
}

func TestHeartbeatListeners(t *testing.T) {
	f := newStreamFixture(t)
	s := f.advertise(t)
	if err := f.registry.StartHeartbeatListeners(f.subjects); err != nil {
		t.Fatal(err)
	}
	defer f.registry.StopHeartbeatListeners()

	f.redis.FastForward(20 * time.Second)
	if err := f.subjects.Publish(bus.StreamHeartbeatSubject(s.ID), nil); err != nil {
		t.Fatal(err)
	}
	f.redis.FastForward(20 * time.Second)

	if _, err := f.registry.Get(context.Background(), s.ID); err != nil {
		t.Errorf("bus heartbeat did not refresh stream: %v", err)
	}
}

func TestNegotiateAccepted(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	s := f.advertise(t)

	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, data []byte) ([]byte, error) {
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req["consumer_id"] != "dashboard-1" {
			t.Errorf("request consumer_id = %v", req["consumer_id"])
		}
		return json.Marshal(offerReply{
			Accepted:        true,
			TransportConfig: map[string]any{"format": "sdrf"},
		})
	})

	offer, err := f.negotiator.Negotiate(ctx, s.ID, model.StreamRequest{
		ConsumerID: "dashboard-1", ConsumerAddress: "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if offer.PublisherAddress != "10.0.0.5" || offer.PublisherPort != 9100 {
		t.Errorf("offer endpoint = %s:%d", offer.PublisherAddress, offer.PublisherPort)
	}
	if offer.TransportConfig["format"] != "sdrf" {
		t.Errorf("transport config = %v", offer.TransportConfig)
	}

	sessions, err := f.negotiator.ListSessions(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != offer.SessionID {
		t.Errorf("sessions = %+v", sessions)
	}

	got, _ := f.registry.Get(ctx, s.ID)
	if got.ActiveSessions != 1 {
		t.Errorf("active_sessions = %d, want 1", got.ActiveSessions)
	}

	if n := len(f.subjects.Published("maestra.stream.session.started")); n != 1 {
		t.Errorf("session_started events = %d, want 1", n)
	}
	hist, _ := f.recorder.SessionHistory(ctx, s.ID, 0)
	if len(hist) != 1 {
		t.Errorf("session history rows = %d, want 1", len(hist))
	}
}

func TestNegotiateRejected(t *testing.T) {
	f := newStreamFixture(t)
	s := f.advertise(t)

	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, _ []byte) ([]byte, error) {
		return json.Marshal(offerReply{Accepted: false, Reason: "at capacity"})
	})

	_, err := f.negotiator.Negotiate(context.Background(), s.ID, model.StreamRequest{ConsumerID: "c1"})
	if !errors.Is(err, util.ErrUpstreamRejected) {
		t.Fatalf("rejection: got %v", err)
	}
	var rej *util.RejectionError
	if !errors.As(err, &rej) || rej.Reason != "at capacity" {
		t.Errorf("reason not carried: %v", err)
	}
}

func TestNegotiateTimeout(t *testing.T) {
	f := newStreamFixture(t)
	s := f.advertise(t)

	// No responder registered: the publisher is silent.
	_, err := f.negotiator.Negotiate(context.Background(), s.ID, model.StreamRequest{ConsumerID: "c1"})
	if !errors.Is(err, util.ErrUpstreamTimeout) {
		t.Errorf("silent publisher: got %v", err)
	}
}

func TestNegotiateDeadStream(t *testing.T) {
	f := newStreamFixture(t)
	_, err := f.negotiator.Negotiate(context.Background(), "no-such", model.StreamRequest{ConsumerID: "c1"})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("dead stream: got %v", err)
	}
}

func TestStopSessionAndHeartbeat(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	s := f.advertise(t)

	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, _ []byte) ([]byte, error) {
		return json.Marshal(offerReply{Accepted: true})
	})
	offer, err := f.negotiator.Negotiate(ctx, s.ID, model.StreamRequest{ConsumerID: "c1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.negotiator.SessionHeartbeat(ctx, offer.SessionID); err != nil {
		t.Errorf("SessionHeartbeat: %v", err)
	}

	if err := f.negotiator.StopSession(ctx, offer.SessionID); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if n := len(f.subjects.Published("maestra.stream.session.stopped")); n != 1 {
		t.Errorf("session_stopped events = %d, want 1", n)
	}
	hist, _ := f.recorder.SessionHistory(ctx, s.ID, 0)
	if len(hist) != 1 || hist[0].Status != "stopped" || hist[0].DurationSeconds == nil {
		t.Errorf("closed history = %+v", hist)
	}

	if err := f.negotiator.SessionHeartbeat(ctx, offer.SessionID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("heartbeat after stop: got %v", err)
	}
}

func TestWithdrawCascadesSessions(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	s := f.advertise(t)

	f.subjects.SubscribeRequests(bus.StreamRequestSubject(s.ID), func(_ string, _ []byte) ([]byte, error) {
		return json.Marshal(offerReply{Accepted: true})
	})
	offer, err := f.negotiator.Negotiate(ctx, s.ID, model.StreamRequest{ConsumerID: "c1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.registry.Withdraw(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.negotiator.GetSession(ctx, offer.SessionID); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("session should cascade with its stream: got %v", err)
	}
	all, _ := f.negotiator.ListSessions(ctx, "")
	if len(all) != 0 {
		t.Errorf("sessions after withdraw = %d, want 0", len(all))
	}
}

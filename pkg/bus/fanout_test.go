package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubBus struct {
	published map[string][][]byte
	failWith  error
}

func newStubBus() *stubBus {
	return &stubBus{published: make(map[string][][]byte)}
}

func (s *stubBus) Publish(subject string, payload []byte) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.published[subject] = append(s.published[subject], payload)
	return nil
}

func (s *stubBus) Request(context.Context, string, []byte, time.Duration) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBus) Subscribe(string, Handler) (Subscription, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBus) SubscribeRequests(string, Responder) (Subscription, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBus) Connected() bool { return true }
func (s *stubBus) Close()          {}

func TestFanoutPublishesBothTrees(t *testing.T) {
	subjects := newStubBus()
	topics := newStubBus()
	f := NewFanout(subjects, topics)

	f.Publish("maestra.entity.state.light.lamp1", []byte("{}"))

	if len(subjects.published["maestra.entity.state.light.lamp1"]) != 1 {
		t.Error("subject leg missed the publish")
	}
	if len(topics.published["maestra/entity/state/light/lamp1"]) != 1 {
		t.Error("topic leg missed the publish or kept dots")
	}
}

func TestFanoutIsolatesLegFailure(t *testing.T) {
	subjects := newStubBus()
	topics := newStubBus()
	topics.failWith = errors.New("broker down")
	f := NewFanout(subjects, topics)

	if err := f.Publish("maestra.entity.created", []byte("{}")); err != nil {
		t.Errorf("topic failure leaked to caller: %v", err)
	}
	if len(subjects.published["maestra.entity.created"]) != 1 {
		t.Error("subject leg should still publish")
	}
}

func TestFanoutNilLegs(t *testing.T) {
	f := NewFanout(nil, nil)
	if err := f.Publish("maestra.x", nil); err != nil {
		t.Errorf("nil legs should be a no-op, got %v", err)
	}
	if f.Connected() {
		t.Error("Connected should be false without a subject leg")
	}
}

func TestFanoutEgressWithoutBroker(t *testing.T) {
	subjects := newStubBus()
	f := NewFanout(subjects, nil)

	f.PublishEgress("maestra/stream/advertise/sensor", map[string]any{"id": "x"})

	if len(subjects.published["maestra.to_mqtt.maestra.stream.advertise.sensor"]) != 1 {
		t.Errorf("egress publish missing, got %v", subjects.published)
	}
}

func TestFanoutEgressWithBroker(t *testing.T) {
	subjects := newStubBus()
	topics := newStubBus()
	f := NewFanout(subjects, topics)

	f.PublishEgress("maestra/stream/advertise/sensor", map[string]any{"id": "x"})

	// With a live broker connection the payload goes straight to the
	// intended topic, unwrapped.
	if len(topics.published["maestra/stream/advertise/sensor"]) != 1 {
		t.Errorf("direct topic publish missing, got %v", topics.published)
	}
	if len(topics.published) != 1 {
		t.Errorf("egress leaked onto extra topics: %v", topics.published)
	}
	// No egress subject either: the bridge would relay it back as a
	// duplicate.
	if len(subjects.published) != 0 {
		t.Errorf("unexpected subject publishes: %v", subjects.published)
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := Timestamp(time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC))
	if ts != "2026-03-01T12:30:45.123456Z" {
		t.Errorf("Timestamp = %q", ts)
	}
}

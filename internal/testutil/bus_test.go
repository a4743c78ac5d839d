package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"maestra.entity.state", "maestra.entity.state", true},
		{"maestra.entity.state", "maestra.entity.state.light", false},
		{"maestra.entity.state.*", "maestra.entity.state.light", true},
		{"maestra.entity.state.*", "maestra.entity.state.light.lamp1", false},
		{"maestra.>", "maestra.entity.state.light.lamp1", true},
		{"maestra.stream.heartbeat.>", "maestra.stream.heartbeat.abc", true},
		{"maestra.stream.heartbeat.>", "maestra.stream.request.abc", false},
		{"*.entity.state", "maestra.entity.state", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			if got := SubjectMatches(tt.pattern, tt.subject); got != tt.want {
				t.Errorf("SubjectMatches(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

func TestFakeBusPublishSubscribe(t *testing.T) {
	b := NewFakeBus()
	var got []string
	b.Subscribe("maestra.entity.state.>", func(subject string, _ []byte) {
		got = append(got, subject)
	})

	b.Publish("maestra.entity.state.light.lamp1", []byte("{}"))
	b.Publish("maestra.stream.advertise", []byte("{}"))

	if len(got) != 1 || got[0] != "maestra.entity.state.light.lamp1" {
		t.Errorf("delivered = %v", got)
	}
	if n := len(b.Published("maestra.>")); n != 2 {
		t.Errorf("recorded %d messages, want 2", n)
	}
}

func TestFakeBusRequestTimeout(t *testing.T) {
	b := NewFakeBus()
	_, err := b.Request(context.Background(), "maestra.stream.request.x", nil, 5*time.Second)
	if !errors.Is(err, util.ErrUpstreamTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestFakeBusRequestResponder(t *testing.T) {
	b := NewFakeBus()
	b.SubscribeRequests("maestra.stream.request.*", func(_ string, _ []byte) ([]byte, error) {
		return []byte(`{"accepted":true}`), nil
	})
	reply, err := b.Request(context.Background(), "maestra.stream.request.x", nil, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != `{"accepted":true}` {
		t.Errorf("reply = %s", reply)
	}
}

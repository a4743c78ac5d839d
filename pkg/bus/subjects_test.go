package bus

import (
	"reflect"
	"testing"
)

func TestSubjectTopicConversion(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		topic   string
	}{
		{"state", "maestra.entity.state.light.lamp1", "maestra/entity/state/light/lamp1"},
		{"single segment", "maestra", "maestra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubjectToTopic(tt.subject); got != tt.topic {
				t.Errorf("SubjectToTopic = %q, want %q", got, tt.topic)
			}
			if got := TopicToSubject(tt.topic); got != tt.subject {
				t.Errorf("TopicToSubject = %q, want %q", got, tt.subject)
			}
		})
	}
}

func TestEgressSubject(t *testing.T) {
	got := EgressSubject("maestra/stream/advertise/sensor")
	want := "maestra.to_mqtt.maestra.stream.advertise.sensor"
	if got != want {
		t.Errorf("EgressSubject = %q, want %q", got, want)
	}
}

func TestStateSubjects(t *testing.T) {
	got := StateSubjects("light", "lamp1")
	want := []string{
		"maestra.entity.state",
		"maestra.entity.state.light",
		"maestra.entity.state.light.lamp1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StateSubjects = %v, want %v", got, want)
	}
}

func TestLifecycleSubjects(t *testing.T) {
	got := LifecycleSubjects("entity_created", "light", "lamp1")
	want := []string{
		"maestra.entity.created",
		"maestra.entity.created.light",
		"maestra.entity.created.light.lamp1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LifecycleSubjects = %v, want %v", got, want)
	}
}

func TestStreamSubjects(t *testing.T) {
	if got := StreamRequestSubject("abc"); got != "maestra.stream.request.abc" {
		t.Errorf("StreamRequestSubject = %q", got)
	}
	if got := StreamWithdrawSubject("abc"); got != "maestra.stream.withdraw.abc" {
		t.Errorf("StreamWithdrawSubject = %q", got)
	}
	if got := SessionHeartbeatSubject("s1"); got != "maestra.stream.session.heartbeat.s1" {
		t.Errorf("SessionHeartbeatSubject = %q", got)
	}
	if got := SessionEventSubject("session_started"); got != "maestra.stream.session.started" {
		t.Errorf("SessionEventSubject = %q", got)
	}
	want := []string{"maestra.stream.advertise", "maestra.stream.advertise.sensor"}
	if got := StreamAdvertiseSubjects("sensor"); !reflect.DeepEqual(got, want) {
		t.Errorf("StreamAdvertiseSubjects = %v", got)
	}
}

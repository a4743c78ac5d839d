// Package bridge relays traffic between the two fan-out trees: MQTT
// topics under maestra/# cross to the subject tree wrapped in an
// envelope, and subjects under maestra.to_mqtt.> cross back to plain
// topics. Relay failures are logged, never propagated.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Envelope wraps an MQTT payload crossing onto the subject tree. Data
// holds the parsed JSON body when the payload parses, else the raw
// string.
type Envelope struct {
	Source    string `json:"source"`
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	QoS       int    `json:"qos"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// IngressSubject maps an MQTT topic to its subject-tree destination:
// maestra/devices/esp32 becomes maestra.mqtt.maestra.devices.esp32.
func IngressSubject(topic string) string {
	return bus.SubjectMQTTIngress + "." + bus.TopicToSubject(topic)
}

// EgressTopic maps a maestra.to_mqtt.<rest> subject to the MQTT topic
// <rest> with dots turned into slashes. Subjects outside the egress
// namespace pass through unchanged.
func EgressTopic(subject string) string {
	prefix := bus.SubjectMQTTEgress + "."
	if !strings.HasPrefix(subject, prefix) {
		return subject
	}
	return bus.SubjectToTopic(strings.TrimPrefix(subject, prefix))
}

// WrapMQTT builds the ingress envelope for one MQTT message.
func WrapMQTT(topic string, payload []byte, qos int, now time.Time) Envelope {
	env := Envelope{
		Source:    "mqtt",
		Topic:     topic,
		Payload:   string(payload),
		QoS:       qos,
		Timestamp: bus.Timestamp(now),
	}
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err == nil {
		env.Data = parsed
	} else {
		env.Data = string(payload)
	}
	return env
}

// ExtractEgressPayload decides what bytes reach the MQTT side. A JSON
// object with a payload field sends that field; any other body is
// relayed as-is.
func ExtractEgressPayload(data []byte) []byte {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return data
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return data
	}
	p, ok := obj["payload"]
	if !ok {
		return data
	}
	if s, ok := p.(string); ok {
		return []byte(s)
	}
	if out, err := json.Marshal(p); err == nil {
		return out
	}
	return data
}

// Bridge runs the bidirectional relay over live connections.
type Bridge struct {
	subjects bus.Bus
	topics   bus.Bus
	subs     []bus.Subscription
}

// New wires a bridge over the two trees.
func New(subjects, topics bus.Bus) *Bridge {
	return &Bridge{subjects: subjects, topics: topics}
}

// Start subscribes both directions. Call Stop to tear down.
func (b *Bridge) Start() error {
	log := util.WithComponent("bridge")

	sub, err := b.topics.Subscribe("maestra/#", func(topic string, payload []byte) {
		env := WrapMQTT(topic, payload, 1, time.Now())
		data, err := json.Marshal(env)
		if err != nil {
			log.WithError(err).Error("envelope marshal failed")
			return
		}
		if err := b.subjects.Publish(IngressSubject(topic), data); err != nil {
			log.WithError(err).Warnf("relay to subjects failed: %s", topic)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing maestra/#: %w", err)
	}
	b.subs = append(b.subs, sub)

	sub, err = b.subjects.Subscribe(bus.SubjectMQTTEgress+".>", func(subject string, data []byte) {
		topic := EgressTopic(subject)
		if err := b.topics.Publish(topic, ExtractEgressPayload(data)); err != nil {
			log.WithError(err).Warnf("relay to topics failed: %s", subject)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing egress subjects: %w", err)
	}
	b.subs = append(b.subs, sub)

	log.Info("bridge running: maestra/# <-> maestra.to_mqtt.>")
	return nil
}

// Stop unsubscribes both directions.
func (b *Bridge) Stop() {
	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil {
			util.WithComponent("bridge").WithError(err).Warn("unsubscribe failed")
		}
	}
	b.subs = nil
}

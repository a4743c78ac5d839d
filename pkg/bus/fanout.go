package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Fanout publishes every event to both trees: the subject as-is on the
// subject tree and its slash form on the topic tree. Either leg may be
// nil (degraded mode) and a failure on one leg never affects the other
// or the caller.
type Fanout struct {
	subjects Bus
	topics   Publisher
}

// NewFanout wires the two legs. Both are optional.
func NewFanout(subjects Bus, topics Publisher) *Fanout {
	return &Fanout{subjects: subjects, topics: topics}
}

// Subjects exposes the subject-tree leg for request/reply and
// subscriptions. Nil when running without NATS.
func (f *Fanout) Subjects() Bus {
	return f.subjects
}

// Connected reports whether the subject tree is reachable.
func (f *Fanout) Connected() bool {
	return f.subjects != nil && f.subjects.Connected()
}

// Publish fans a payload out to both trees, best-effort.
func (f *Fanout) Publish(subject string, payload []byte) error {
	if f.subjects != nil {
		if err := f.subjects.Publish(subject, payload); err != nil {
			util.WithComponent("fanout").WithError(err).Warnf("subject publish failed: %s", subject)
		}
	}
	if f.topics != nil {
		if err := f.topics.Publish(SubjectToTopic(subject), payload); err != nil {
			util.WithComponent("fanout").WithError(err).Warnf("topic publish failed: %s", subject)
		}
	}
	return nil
}

// PublishJSON marshals v and fans it out on every given subject.
func (f *Fanout) PublishJSON(subjects []string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		util.WithComponent("fanout").WithError(err).Error("event marshal failed")
		return
	}
	for _, s := range subjects {
		f.Publish(s, payload)
	}
}

// PublishEgress sends v toward an MQTT topic: straight onto the topic
// tree when this process holds a broker connection, and through the
// subject-tree egress convention so the bridge relays it when it does
// not. The egress subject never fans out to the topics leg itself;
// wrapped, it would land on a maestra/to_mqtt/... topic the bridge
// re-ingests.
func (f *Fanout) PublishEgress(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		util.WithComponent("fanout").WithError(err).Error("egress marshal failed")
		return
	}
	if f.topics != nil {
		if err := f.topics.Publish(topic, payload); err != nil {
			util.WithComponent("fanout").WithError(err).Warnf("topic publish failed: %s", topic)
		}
		return
	}
	if f.subjects != nil {
		if err := f.subjects.Publish(EgressSubject(topic), payload); err != nil {
			util.WithComponent("fanout").WithError(err).Warnf("subject publish failed: %s", EgressSubject(topic))
		}
	}
}

// Request forwards to the subject tree, failing fast when it is down.
func (f *Fanout) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	if f.subjects == nil || !f.subjects.Connected() {
		return nil, util.NewDependencyError("nats", nil)
	}
	return f.subjects.Request(ctx, subject, payload, timeout)
}

// Timestamp formats t the way every event payload carries it,
// ISO-8601 UTC with a trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

package bus

import "strings"

// Subject tree layout. Subjects are dotted; the matching MQTT topics
// replace dots with slashes.
const (
	subjectRoot = "maestra"

	// SubjectMQTTIngress prefixes MQTT traffic relayed onto the subject
	// tree by the bridge.
	SubjectMQTTIngress = "maestra.mqtt"

	// SubjectMQTTEgress is the convention for reaching the topic tree
	// from the subject tree: maestra.to_mqtt.<rest> lands on the topic
	// <rest> with dots turned into slashes.
	SubjectMQTTEgress = "maestra.to_mqtt"
)

// SubjectToTopic converts a dotted subject to a slash topic.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// TopicToSubject converts a slash topic to a dotted subject.
func TopicToSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// EgressSubject wraps a topic into the maestra.to_mqtt convention.
func EgressSubject(topic string) string {
	return SubjectMQTTEgress + "." + TopicToSubject(topic)
}

// StateSubjects returns the three fan-outs for a state change: global,
// per-type, per-(type, slug).
func StateSubjects(entityType, slug string) []string {
	base := subjectRoot + ".entity.state"
	return []string{
		base,
		base + "." + entityType,
		base + "." + entityType + "." + slug,
	}
}

// LifecycleSubjects returns the fan-outs for an entity lifecycle event
// (entity_created, entity_updated, entity_deleted): global, per-type,
// per-(type, slug).
func LifecycleSubjects(eventType, entityType, slug string) []string {
	// eventType is "entity_created" etc; the subject segment drops the
	// entity_ prefix to read maestra.entity.created.<type>.<slug>.
	verb := strings.TrimPrefix(eventType, "entity_")
	base := subjectRoot + ".entity." + verb
	return []string{
		base,
		base + "." + entityType,
		base + "." + entityType + "." + slug,
	}
}

// StreamAdvertiseSubjects returns the discovery fan-outs for a new or
// refreshed stream.
func StreamAdvertiseSubjects(streamType string) []string {
	base := subjectRoot + ".stream.advertise"
	return []string{
		base,
		base + "." + streamType,
	}
}

// StreamWithdrawSubject announces a stream going away.
func StreamWithdrawSubject(streamID string) string {
	return subjectRoot + ".stream.withdraw." + streamID
}

// StreamRequestSubject is where a publisher answers negotiation
// requests for its stream.
func StreamRequestSubject(streamID string) string {
	return subjectRoot + ".stream.request." + streamID
}

// StreamHeartbeatSubject carries publisher keep-alives.
func StreamHeartbeatSubject(streamID string) string {
	return subjectRoot + ".stream.heartbeat." + streamID
}

// SessionHeartbeatSubject carries consumer keep-alives.
func SessionHeartbeatSubject(sessionID string) string {
	return subjectRoot + ".stream.session.heartbeat." + sessionID
}

// SessionEventSubject announces session_started / session_stopped.
func SessionEventSubject(eventType string) string {
	return subjectRoot + ".stream.session." + strings.TrimPrefix(eventType, "session_")
}

// StreamAdvertiseTopic is the MQTT mirror topic for stream discovery,
// so topic-tree clients that joined after the advertise still see it.
func StreamAdvertiseTopic(streamType string) string {
	return "maestra/stream/advertise/" + streamType
}

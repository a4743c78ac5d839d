// Package bus provides the dual fan-out event channel: a dotted subject
// tree (NATS) and a slash topic tree (MQTT) sharing JSON payloads, plus
// request/reply on the subject tree for stream negotiation.
package bus

import (
	"context"
	"time"
)

// Handler receives a message delivered on a subscription. The subject
// is in the flavour of the bus that delivered it.
type Handler func(subject string, data []byte)

// Subscription is an active subscription that can be torn down.
type Subscription interface {
	Unsubscribe() error
}

// Publisher is the minimal fan-out capability: fire-and-forget publish
// of a payload on a hierarchical path.
type Publisher interface {
	Publish(path string, payload []byte) error
}

// Responder answers a request; returning (nil, err) sends no reply and
// lets the requester time out.
type Responder func(subject string, data []byte) ([]byte, error)

// Bus is a full connection to one fan-out tree.
type Bus interface {
	Publisher

	// Request performs request/reply with a hard timeout. Timeouts are
	// surfaced as util.ErrUpstreamTimeout.
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)

	// Subscribe registers a handler; subject may carry the tree's
	// wildcard syntax.
	Subscribe(subject string, h Handler) (Subscription, error)

	// SubscribeRequests registers a responder for request/reply subjects.
	SubscribeRequests(subject string, r Responder) (Subscription, error)

	Connected() bool
	Close()
}

// DefaultRequestTimeout bounds negotiation request/reply calls.
const DefaultRequestTimeout = 5 * time.Second

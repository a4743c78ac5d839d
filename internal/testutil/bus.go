// Package testutil provides in-process doubles for the fabric's
// backing services: a fake fan-out bus with subject wildcard matching
// and a miniredis-backed ephemeral store.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// FakeBus is an in-process bus.Bus. Publishes are recorded and
// delivered synchronously to matching subscribers; requests are served
// by registered responders or time out.
type FakeBus struct {
	mu         sync.Mutex
	published  []PublishedMsg
	subs       []*fakeSub
	responders map[string]bus.Responder
	down       bool
}

// PublishedMsg is one recorded publish.
type PublishedMsg struct {
	Subject string
	Payload []byte
}

// NewFakeBus creates an empty fake bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{responders: make(map[string]bus.Responder)}
}

type fakeSub struct {
	owner   *FakeBus
	pattern string
	handler bus.Handler
}

func (s *fakeSub) Unsubscribe() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	for i, sub := range s.owner.subs {
		if sub == s {
			s.owner.subs = append(s.owner.subs[:i], s.owner.subs[i+1:]...)
			break
		}
	}
	return nil
}

// SubjectMatches implements hierarchical wildcard matching for both
// tree flavours. Dotted patterns use * (one segment) and > (tail);
// slash patterns use + and #.
func SubjectMatches(pattern, subject string) bool {
	sep := "."
	tail, one := ">", "*"
	if strings.Contains(pattern, "/") || strings.Contains(subject, "/") {
		sep, tail, one = "/", "#", "+"
	}
	ps := strings.Split(pattern, sep)
	ss := strings.Split(subject, sep)
	for i, p := range ps {
		if p == tail {
			return true
		}
		if i >= len(ss) {
			return false
		}
		if p != one && p != ss[i] {
			return false
		}
	}
	return len(ps) == len(ss)
}

// Publish records the message and delivers it to matching subscribers.
func (b *FakeBus) Publish(subject string, payload []byte) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return util.NewDependencyError("bus", nil)
	}
	b.published = append(b.published, PublishedMsg{Subject: subject, Payload: payload})
	var matched []bus.Handler
	for _, s := range b.subs {
		if SubjectMatches(s.pattern, subject) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range matched {
		h(subject, payload)
	}
	return nil
}

// Request serves the call from a registered responder, or waits out the
// timeout and reports util.ErrUpstreamTimeout.
func (b *FakeBus) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	var responder bus.Responder
	for pattern, r := range b.responders {
		if SubjectMatches(pattern, subject) {
			responder = r
			break
		}
	}
	b.mu.Unlock()

	if responder == nil {
		select {
		case <-ctx.Done():
		case <-time.After(minDuration(timeout, 50*time.Millisecond)):
		}
		return nil, util.ErrUpstreamTimeout
	}
	return responder(subject, payload)
}

// Tests never actually wait 5 s for a timeout.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Subscribe registers a handler for a wildcard pattern.
func (b *FakeBus) Subscribe(pattern string, h bus.Handler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSub{owner: b, pattern: pattern, handler: h}
	b.subs = append(b.subs, s)
	return s, nil
}

// SubscribeRequests registers a responder for a wildcard pattern.
func (b *FakeBus) SubscribeRequests(pattern string, r bus.Responder) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[pattern] = r
	return &fakeSub{owner: b, pattern: pattern}, nil
}

// Connected reports the simulated link state.
func (b *FakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.down
}

// Close is a no-op.
func (b *FakeBus) Close() {}

// SetDown simulates an outage; publishes fail until restored.
func (b *FakeBus) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Published returns all messages whose subject matches pattern.
func (b *FakeBus) Published(pattern string) []PublishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []PublishedMsg
	for _, m := range b.published {
		if SubjectMatches(pattern, m.Subject) {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops all recorded messages.
func (b *FakeBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

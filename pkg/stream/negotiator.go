package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// Negotiator brokers consumer attachment: the control plane asks the
// publisher over request/reply and, on acceptance, accounts a session.
// Data never flows through here; the consumer dials the publisher
// directly with the returned offer.
type Negotiator struct {
	registry *Registry
}

// NewNegotiator wires the negotiator over the registry.
func NewNegotiator(registry *Registry) *Negotiator {
	return &Negotiator{registry: registry}
}

// offerReply is what publishers answer on maestra.stream.request.<id>.
type offerReply struct {
	Accepted        bool           `json:"accepted"`
	Reason          string         `json:"reason,omitempty"`
	Address         string         `json:"address,omitempty"`
	Port            int            `json:"port,omitempty"`
	TransportConfig map[string]any `json:"transport_config,omitempty"`
}

// Negotiate asks the publisher for a session. A publisher that does not
// answer within the request timeout surfaces as ErrUpstreamTimeout; a
// decline surfaces as ErrUpstreamRejected with the stated reason.
func (n *Negotiator) Negotiate(ctx context.Context, streamID string, req model.StreamRequest) (*model.Offer, error) {
	if req.ConsumerID == "" {
		return nil, util.NewValidationError("consumer_id is required")
	}

	s, err := n.registry.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"stream_id":        streamID,
		"consumer_id":      req.ConsumerID,
		"consumer_address": req.ConsumerAddress,
		"consumer_port":    req.ConsumerPort,
		"config":           req.Config,
	})
	if err != nil {
		return nil, err
	}

	replyData, err := n.registry.fanout.Request(ctx, bus.StreamRequestSubject(streamID), payload, bus.DefaultRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("negotiating stream %s: %w", streamID, err)
	}
	var reply offerReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		return nil, fmt.Errorf("negotiating stream %s: bad reply: %w", streamID, err)
	}
	if !reply.Accepted {
		return nil, util.NewRejectionError(streamID, reply.Reason)
	}

	// The publisher may redirect the consumer to a different endpoint
	// than the advertised one.
	address, port := s.Address, s.Port
	if reply.Address != "" {
		address = reply.Address
	}
	if reply.Port != 0 {
		port = reply.Port
	}

	now := time.Now().UTC()
	sess := &model.Session{
		SessionID:        uuid.NewString(),
		StreamID:         s.ID,
		StreamName:       s.Name,
		StreamType:       s.StreamType,
		PublisherID:      s.PublisherID,
		PublisherAddress: address,
		PublisherPort:    port,
		ConsumerID:       req.ConsumerID,
		ConsumerAddress:  req.ConsumerAddress,
		Protocol:         s.Protocol,
		TransportConfig:  orEmpty(reply.TransportConfig),
		StartedAt:        now,
		Status:           "active",
	}
	if err := n.putSession(ctx, sess); err != nil {
		return nil, err
	}

	n.registry.fanout.PublishJSON([]string{bus.SessionEventSubject(model.EventSessionStarted)}, model.StreamEvent{
		Type:            model.EventSessionStarted,
		StreamID:        s.ID,
		StreamType:      s.StreamType,
		SessionID:       sess.SessionID,
		ConsumerID:      req.ConsumerID,
		TransportConfig: sess.TransportConfig,
		Timestamp:       bus.Timestamp(now),
	})

	// Durable accounting is best-effort; a sink failure never fails the
	// negotiation.
	if err := n.registry.recorder.RecordSessionStart(ctx, model.SessionHistory{
		SessionID:   sess.SessionID,
		StreamID:    s.ID,
		StreamName:  s.Name,
		StreamType:  s.StreamType,
		PublisherID: s.PublisherID,
		ConsumerID:  req.ConsumerID,
		Protocol:    s.Protocol,
		StartedAt:   now,
		Status:      "active",
	}); err != nil {
		util.WithStream(s.ID).WithError(err).Warn("session history write failed")
	}

	util.WithStream(s.ID).Infof("session %s started for %s", sess.SessionID, req.ConsumerID)
	return &model.Offer{
		SessionID:        sess.SessionID,
		StreamID:         s.ID,
		StreamName:       s.Name,
		StreamType:       s.StreamType,
		Protocol:         s.Protocol,
		PublisherAddress: address,
		PublisherPort:    port,
		TransportConfig:  sess.TransportConfig,
	}, nil
}

// ListSessions returns live sessions, optionally narrowed to one
// stream, pruning index entries whose records expired.
func (n *Negotiator) ListSessions(ctx context.Context, streamID string) ([]*model.Session, error) {
	index := ephemeral.SessionIndexAll
	if streamID != "" {
		index = ephemeral.SessionStreamIndex(streamID)
	}
	ids, err := n.registry.records.IndexMembers(ctx, index)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		s, err := n.getSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			if err := n.registry.records.IndexRemove(ctx, index, id); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetSession returns one live session.
func (n *Negotiator) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s, err := n.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, util.NewNotFoundError("session", sessionID)
	}
	return s, nil
}

// StopSession tears a session down, closes its durable record, and
// announces session_stopped.
func (n *Negotiator) StopSession(ctx context.Context, sessionID string) error {
	s, err := n.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return util.NewNotFoundError("session", sessionID)
	}

	if err := n.registry.records.Delete(ctx, ephemeral.SessionKey(sessionID)); err != nil {
		return err
	}
	if err := n.registry.records.IndexRemove(ctx, ephemeral.SessionIndexAll, sessionID); err != nil {
		return err
	}
	if err := n.registry.records.IndexRemove(ctx, ephemeral.SessionStreamIndex(s.StreamID), sessionID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := n.registry.recorder.RecordSessionEnd(ctx, sessionID, now, "stopped", ""); err != nil && !util.IsNotFound(err) {
		util.WithStream(s.StreamID).WithError(err).Warn("session history close failed")
	}

	n.registry.fanout.PublishJSON([]string{bus.SessionEventSubject(model.EventSessionStopped)}, model.StreamEvent{
		Type:       model.EventSessionStopped,
		StreamID:   s.StreamID,
		SessionID:  sessionID,
		ConsumerID: s.ConsumerID,
		Timestamp:  bus.Timestamp(now),
	})
	return nil
}

// SessionHeartbeat refreshes a session's TTL.
func (n *Negotiator) SessionHeartbeat(ctx context.Context, sessionID string) error {
	ok, err := n.registry.records.Touch(ctx, ephemeral.SessionKey(sessionID), ephemeral.RecordTTL)
	if err != nil {
		return err
	}
	if !ok {
		return util.NewNotFoundError("session", sessionID)
	}
	return nil
}

func (n *Negotiator) putSession(ctx context.Context, s *model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := n.registry.records.SetHash(ctx, ephemeral.SessionKey(s.SessionID),
		map[string]string{recordField: string(data)}, ephemeral.RecordTTL); err != nil {
		return err
	}
	if err := n.registry.records.IndexAdd(ctx, ephemeral.SessionIndexAll, s.SessionID); err != nil {
		return err
	}
	return n.registry.records.IndexAdd(ctx, ephemeral.SessionStreamIndex(s.StreamID), s.SessionID)
}

func (n *Negotiator) getSession(ctx context.Context, id string) (*model.Session, error) {
	fields, err := n.registry.records.GetHash(ctx, ephemeral.SessionKey(id))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	var s model.Session
	if err := json.Unmarshal([]byte(fields[recordField]), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

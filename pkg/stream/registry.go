// Package stream tracks live stream advertisements in the TTL store and
// negotiates consumer sessions with publishers over request/reply.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

// recordField is the hash field holding the JSON-encoded record.
const recordField = "data"

// Registry is the live-stream directory. Streams exist only while their
// TTL is fresh; index sets are pruned lazily on reads.
type Registry struct {
	records  *ephemeral.Store
	fanout   *bus.Fanout
	recorder history.Recorder

	subs []bus.Subscription
}

// NewRegistry wires the registry over the TTL store.
func NewRegistry(records *ephemeral.Store, fan *bus.Fanout, rec history.Recorder) *Registry {
	return &Registry{records: records, fanout: fan, recorder: rec}
}

// Advertise registers a stream for one TTL window and announces it on
// the discovery fan-outs plus the retained-style MQTT mirror topic.
func (r *Registry) Advertise(ctx context.Context, adv model.StreamAdvertise) (*model.Stream, error) {
	b := &util.ValidationBuilder{}
	b.Add(adv.Name != "", "name is required")
	b.Add(adv.StreamType != "", "stream_type is required")
	b.Add(adv.PublisherID != "", "publisher_id is required")
	b.Add(adv.Address != "", "address is required")
	b.Add(adv.Port > 0 && adv.Port < 65536, "port must be 1-65535")
	if err := b.Build(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &model.Stream{
		ID:            uuid.NewString(),
		Name:          adv.Name,
		StreamType:    adv.StreamType,
		PublisherID:   adv.PublisherID,
		Protocol:      adv.Protocol,
		Address:       adv.Address,
		Port:          adv.Port,
		EntityID:      adv.EntityID,
		DeviceID:      adv.DeviceID,
		Config:        orEmpty(adv.Config),
		Metadata:      orEmpty(adv.Metadata),
		AdvertisedAt:  now,
		LastHeartbeat: now,
	}
	if s.Protocol == "" {
		s.Protocol = "udp"
	}

	if err := r.putStream(ctx, s); err != nil {
		return nil, err
	}
	if err := r.records.IndexAdd(ctx, ephemeral.StreamIndexAll, s.ID); err != nil {
		return nil, err
	}
	if err := r.records.IndexAdd(ctx, ephemeral.StreamTypeIndex(s.StreamType), s.ID); err != nil {
		return nil, err
	}

	r.fanout.PublishJSON(bus.StreamAdvertiseSubjects(s.StreamType), model.StreamEvent{
		Type:        model.EventStreamAdvertised,
		StreamID:    s.ID,
		StreamType:  s.StreamType,
		PublisherID: s.PublisherID,
		Name:        s.Name,
		Timestamp:   bus.Timestamp(now),
	})
	r.mirrorAdvertise(s)

	util.WithStream(s.ID).Infof("stream advertised: %s (%s)", s.Name, s.StreamType)
	return s, nil
}

// Withdraw removes a stream and cascades its sessions. Withdrawing a
// stream that already expired is not an error.
func (r *Registry) Withdraw(ctx context.Context, id string) error {
	s, err := r.getStream(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return util.NewNotFoundError("stream", id)
	}

	// Cascade sessions first so no session outlives its stream.
	sessionIDs, err := r.records.IndexMembers(ctx, ephemeral.SessionStreamIndex(id))
	if err != nil {
		return err
	}
	for _, sid := range sessionIDs {
		if err := r.records.Delete(ctx, ephemeral.SessionKey(sid)); err != nil {
			return err
		}
		if err := r.records.IndexRemove(ctx, ephemeral.SessionIndexAll, sid); err != nil {
			return err
		}
	}
	if err := r.records.Delete(ctx, ephemeral.SessionStreamIndex(id)); err != nil {
		return err
	}

	if err := r.records.Delete(ctx, ephemeral.StreamKey(id)); err != nil {
		return err
	}
	if err := r.records.IndexRemove(ctx, ephemeral.StreamIndexAll, id); err != nil {
		return err
	}
	if err := r.records.IndexRemove(ctx, ephemeral.StreamTypeIndex(s.StreamType), id); err != nil {
		return err
	}

	r.fanout.PublishJSON([]string{bus.StreamWithdrawSubject(id)}, model.StreamEvent{
		Type:        model.EventStreamWithdrawn,
		StreamID:    id,
		StreamType:  s.StreamType,
		PublisherID: s.PublisherID,
		Name:        s.Name,
		Timestamp:   bus.Timestamp(time.Now()),
	})

	util.WithStream(id).Info("stream withdrawn")
	return nil
}

// Heartbeat refreshes a stream's TTL and heartbeat timestamp, and
// re-publishes the MQTT mirror so late joiners keep seeing it.
func (r *Registry) Heartbeat(ctx context.Context, id string) (*model.Stream, error) {
	s, err := r.getStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, util.NewNotFoundError("stream", id)
	}
	s.LastHeartbeat = time.Now().UTC()
	if err := r.putStream(ctx, s); err != nil {
		return nil, err
	}
	r.mirrorAdvertise(s)
	return s, nil
}

// Get returns one live stream with its session count.
func (r *Registry) Get(ctx context.Context, id string) (*model.Stream, error) {
	s, err := r.getStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, util.NewNotFoundError("stream", id)
	}
	n, err := r.records.IndexCount(ctx, ephemeral.SessionStreamIndex(id))
	if err != nil {
		return nil, err
	}
	s.ActiveSessions = n
	return s, nil
}

// List returns live streams, optionally narrowed by type. Index entries
// whose records expired are pruned as a side effect.
func (r *Registry) List(ctx context.Context, streamType string) ([]*model.Stream, error) {
	index := ephemeral.StreamIndexAll
	if streamType != "" {
		index = ephemeral.StreamTypeIndex(streamType)
	}
	ids, err := r.records.IndexMembers(ctx, index)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Stream, 0, len(ids))
	for _, id := range ids {
		s, err := r.getStream(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			// Expired behind the index's back.
			if err := r.records.IndexRemove(ctx, index, id); err != nil {
				return nil, err
			}
			continue
		}
		n, err := r.records.IndexCount(ctx, ephemeral.SessionStreamIndex(id))
		if err != nil {
			return nil, err
		}
		s.ActiveSessions = n
		out = append(out, s)
	}
	return out, nil
}

// StartHeartbeatListeners subscribes to the keep-alive subjects so
// publishers and consumers can refresh TTLs without HTTP.
func (r *Registry) StartHeartbeatListeners(b bus.Bus) error {
	sub, err := b.Subscribe("maestra.stream.session.heartbeat.>", func(subject string, _ []byte) {
		id := lastSegment(subject)
		if _, err := r.records.Touch(context.Background(), ephemeral.SessionKey(id), ephemeral.RecordTTL); err != nil {
			util.WithStream(id).WithError(err).Warn("session heartbeat failed")
		}
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	sub, err = b.Subscribe("maestra.stream.heartbeat.>", func(subject string, _ []byte) {
		id := lastSegment(subject)
		if _, err := r.Heartbeat(context.Background(), id); err != nil && !util.IsNotFound(err) {
			util.WithStream(id).WithError(err).Warn("stream heartbeat failed")
		}
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)
	return nil
}

// StopHeartbeatListeners tears down the keep-alive subscriptions.
func (r *Registry) StopHeartbeatListeners() {
	for _, s := range r.subs {
		if err := s.Unsubscribe(); err != nil {
			util.WithComponent("stream").WithError(err).Warn("unsubscribe failed")
		}
	}
	r.subs = nil
}

// mirrorAdvertise pushes the discovery summary toward the topic tree
// through the bridge egress convention.
func (r *Registry) mirrorAdvertise(s *model.Stream) {
	r.fanout.PublishEgress(bus.StreamAdvertiseTopic(s.StreamType), map[string]any{
		"id":          s.ID,
		"name":        s.Name,
		"stream_type": s.StreamType,
		"address":     s.Address,
		"port":        s.Port,
		"config":      s.Config,
	})
}

func (r *Registry) putStream(ctx context.Context, s *model.Stream) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.records.SetHash(ctx, ephemeral.StreamKey(s.ID),
		map[string]string{recordField: string(data)}, ephemeral.RecordTTL)
}

// getStream reads a stream record; expired records read as (nil, nil).
func (r *Registry) getStream(ctx context.Context, id string) (*model.Stream, error) {
	fields, err := r.records.GetHash(ctx, ephemeral.StreamKey(id))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	var s model.Stream
	if err := json.Unmarshal([]byte(fields[recordField]), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func lastSegment(subject string) string {
	segs := strings.Split(subject, ".")
	return segs[len(segs)-1]
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Package ephemeral is the TTL'd record store backing live streams and
// sessions. Records are Redis hashes with a per-key expiry plus index
// sets; nothing here is durable and nothing survives its TTL.
package ephemeral

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

// RecordTTL is the lifetime of streams and sessions between heartbeats.
const RecordTTL = 30 * time.Second

// Key shapes.
const (
	streamKeyPrefix  = "stream:"
	sessionKeyPrefix = "session:"

	StreamIndexAll    = "streams:all"
	SessionIndexAll   = "sessions:all"
	streamIndexType   = "streams:by_type:"
	sessionIndexOwner = "sessions:by_stream:"
)

// StreamKey returns the record key for a stream id.
func StreamKey(id string) string { return streamKeyPrefix + id }

// SessionKey returns the record key for a session id.
func SessionKey(id string) string { return sessionKeyPrefix + id }

// StreamTypeIndex returns the index set for a stream type.
func StreamTypeIndex(streamType string) string { return streamIndexType + streamType }

// SessionStreamIndex returns the per-stream session index set.
func SessionStreamIndex(streamID string) string { return sessionIndexOwner + streamID }

// Store wraps a Redis connection with the fabric's record primitives.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Connect dials Redis from a redis:// URL and verifies the link.
func Connect(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, util.NewDependencyError("redis", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, util.NewDependencyError("redis", err)
	}
	return &Store{rdb: rdb}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies the link is up.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return util.NewDependencyError("redis", err)
	}
	return nil
}

// SetHash writes all fields of a record and arms its TTL.
func (s *Store) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	pipe.HSet(ctx, key, args)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// GetHash reads a whole record. A missing or expired key returns
// (nil, nil).
func (s *Store) GetHash(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// SetField rewrites one field without touching the TTL.
func (s *Store) SetField(ctx context.Context, key, field, value string) error {
	return s.rdb.HSet(ctx, key, field, value).Err()
}

// Touch re-arms a record's TTL. Returns false when the record has
// already expired.
func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Exists reports whether a record is still live.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IndexAdd inserts a member into an index set.
func (s *Store) IndexAdd(ctx context.Context, index, member string) error {
	return s.rdb.SAdd(ctx, index, member).Err()
}

// IndexRemove drops a member from an index set.
func (s *Store) IndexRemove(ctx context.Context, index, member string) error {
	return s.rdb.SRem(ctx, index, member).Err()
}

// IndexMembers lists an index set. Index sets have no TTL; callers
// prune entries whose records have expired.
func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	return s.rdb.SMembers(ctx, index).Result()
}

// IndexCount sizes an index set.
func (s *Store) IndexCount(ctx context.Context, index string) (int, error) {
	n, err := s.rdb.SCard(ctx, index).Result()
	return int(n), err
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

const keyPrefix = "minq:cache:"

// kvStore is the consumer interface for the Redis cache (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// envelope is the msgpack value stored per key. Filter guards against
// hash collisions.
type envelope struct {
	Filter     string `msgpack:"f"`
	Value      []byte `msgpack:"v"`
	Expiration int64  `msgpack:"e"`
}

// RedisStore keeps cache entries in Redis. Keys expire retention after the
// entry does; expiration is still checked on read.
type RedisStore struct {
	kv        kvStore
	prefix    string
	retention time.Duration
	logger    *zap.Logger
}

// NewRedisStore creates a store scoped to one collection.
func NewRedisStore(kv kvStore, collection string, retention time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		kv:        kv,
		prefix:    keyPrefix + collection + ":",
		retention: retention,
		logger:    logger,
	}
}

func (s *RedisStore) key(filter string) string {
	h := sha256.Sum256([]byte(filter))
	return s.prefix + hex.EncodeToString(h[:])
}

// Get returns the entry stored for filter if it has not expired.
// Sessions do not apply to Redis.
func (s *RedisStore) Get(ctx context.Context, _ db.Session, filter string, now time.Time) (Entry, bool, error) {
	key := s.key(filter)
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get cache key: %w", err)
	}

	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		s.logger.Warn("Failed to decode cache envelope", zap.String("key", key), zap.Error(err))
		return Entry{}, false, nil
	}
	if env.Filter != filter || env.Expiration < now.UnixMilli() {
		return Entry{}, false, nil
	}
	payload, err := decompress(env.Value)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Filter: env.Filter, Payload: payload, Expiration: time.UnixMilli(env.Expiration)}, true, nil
}

// Put stores the entry, overwriting any previous one for the same filter.
func (s *RedisStore) Put(ctx context.Context, _ db.Session, e Entry, now time.Time) error {
	value, err := compress(e.Payload)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(envelope{
		Filter:     e.Filter,
		Value:      value,
		Expiration: e.Expiration.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache envelope: %w", err)
	}

	ttl := e.Expiration.Sub(now) + s.retention
	if ttl <= 0 {
		return nil
	}
	if err := s.kv.SetWithTTL(ctx, s.key(e.Filter), data, ttl); err != nil {
		return fmt.Errorf("set cache key: %w", err)
	}
	return nil
}

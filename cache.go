package minq

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
	"github.com/kailas-cloud/minq/internal/repository/cache"
)

// cachePayload is the encoded result set stored per cache entry.
type cachePayload struct {
	Rows []db.Document `bson:"rows"`
}

type cachedRows[T any] struct {
	Rows []T `bson:"rows"`
}

// CheckCache returns the cached result set for filter if one has not
// expired. Lookup failures are logged and reported as a miss.
func (m *Minq[T]) CheckCache(ctx context.Context, filter FilterDefinition, tx *Transaction) ([]T, bool, error) {
	key, err := filter.Canonical()
	if err != nil {
		return nil, false, fmt.Errorf("render cache key: %w", err)
	}
	return m.checkCache(ctx, key, txSession(tx))
}

// Cache stores rows as the result set for filter until ttl elapses, inside
// tx when set.
func (m *Minq[T]) Cache(ctx context.Context, filter FilterDefinition, rows []T, ttl time.Duration, tx *Transaction) error {
	key, err := filter.Canonical()
	if err != nil {
		return fmt.Errorf("render cache key: %w", err)
	}
	docs := make([]db.Document, 0, len(rows))
	for i := range rows {
		doc, err := m.toDocument(&rows[i])
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return m.storeCache(ctx, key, docs, ttl, txSession(tx))
}

func (m *Minq[T]) checkCache(ctx context.Context, key string, sess db.Session) ([]T, bool, error) {
	entry, ok, err := m.cache.Get(ctx, sess, key, m.client.now())
	if err != nil {
		m.client.obs.cacheResult(m.name, "error")
		m.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		m.client.obs.cacheResult(m.name, "miss")
		return nil, false, nil
	}

	var out cachedRows[T]
	if err := bson.Unmarshal(entry.Payload, &out); err != nil {
		m.client.obs.cacheResult(m.name, "error")
		m.logger.Warn("Failed to decode cached rows", zap.Error(err))
		return nil, false, nil
	}
	m.client.obs.cacheResult(m.name, "hit")
	if out.Rows == nil {
		out.Rows = []T{}
	}
	return out.Rows, true, nil
}

func (m *Minq[T]) storeCache(ctx context.Context, key string, docs []db.Document, ttl time.Duration, sess db.Session) error {
	if docs == nil {
		docs = []db.Document{}
	}
	payload, err := bson.Marshal(cachePayload{Rows: docs})
	if err != nil {
		return fmt.Errorf("encode cached rows: %w", err)
	}
	now := m.client.now()
	return m.cache.Put(ctx, sess, cache.Entry{
		Filter:     key,
		Payload:    payload,
		Expiration: now.Add(ttl),
	}, now)
}

func txSession(tx *Transaction) db.Session {
	if tx == nil {
		return nil
	}
	return tx.session()
}

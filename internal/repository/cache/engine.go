// Package cache stores filter-keyed result sets for the query layer, either in
// a companion engine collection or in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// Cache row field names.
const (
	fieldFilter     = "filter"
	fieldValue      = "value"
	fieldExpiration = "expiration"
)

// Entry is one cached result set. Payload is the uncompressed encoded result.
type Entry struct {
	Filter     string
	Payload    []byte
	Expiration time.Time
}

// collection is the consumer interface for the cache collection (ISP).
type collection interface {
	Name() string
	Find(ctx context.Context, sess db.Session, q *db.FindQuery) ([]db.Document, error)
	Upsert(ctx context.Context, sess db.Session, f db.Filter, u db.Update) (db.Document, error)
	Delete(ctx context.Context, sess db.Session, f db.Filter) (int64, error)
	ListIndexes(ctx context.Context) ([]db.IndexDefinition, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) (string, error)
}

// row is the stored shape of a cache entry.
type row struct {
	Filter     string `bson:"filter"`
	Value      []byte `bson:"value"`
	Expiration int64  `bson:"expiration"`
}

// EngineStore keeps cache rows in a companion collection.
type EngineStore struct {
	coll      collection
	retention time.Duration
	logger    *zap.Logger

	mu         sync.Mutex
	indexReady bool
}

// NewEngineStore creates a store over coll. Rows whose expiration is older
// than retention are purged on cache hits.
func NewEngineStore(coll collection, retention time.Duration, logger *zap.Logger) *EngineStore {
	return &EngineStore{
		coll:      coll,
		retention: retention,
		logger:    logger,
	}
}

// Get returns the newest unexpired entry stored for filter.
func (s *EngineStore) Get(ctx context.Context, sess db.Session, filter string, now time.Time) (Entry, bool, error) {
	docs, err := s.coll.Find(ctx, sess, &db.FindQuery{
		Filter: db.And(
			db.Eq(fieldFilter, filter),
			&db.Condition{Field: fieldExpiration, Op: db.OpGte, Value: now.UnixMilli()},
		),
		Sort:  []db.SortKey{{Field: fieldExpiration, Descending: true}},
		Limit: 1,
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("find cache row: %w", err)
	}
	if len(docs) == 0 {
		return Entry{}, false, nil
	}

	r, err := decodeRow(docs[0])
	if err != nil {
		return Entry{}, false, err
	}
	payload, err := decompress(r.Value)
	if err != nil {
		return Entry{}, false, err
	}

	s.purge(ctx, now)
	return Entry{Filter: r.Filter, Payload: payload, Expiration: time.UnixMilli(r.Expiration)}, true, nil
}

// Put upserts the entry by filter string, inside sess when set.
func (s *EngineStore) Put(ctx context.Context, sess db.Session, e Entry, _ time.Time) error {
	if err := s.ensureIndex(ctx); err != nil {
		s.logger.Warn("Failed to ensure cache index",
			zap.String("collection", s.coll.Name()), zap.Error(err))
	}

	value, err := compress(e.Payload)
	if err != nil {
		return err
	}
	u := db.Update{Ops: []db.UpdateOp{
		{Kind: db.UpdateSet, Field: fieldValue, Value: value},
		{Kind: db.UpdateSet, Field: fieldExpiration, Value: e.Expiration.UnixMilli()},
	}}
	if _, err := s.coll.Upsert(ctx, sess, db.Eq(fieldFilter, e.Filter), u); err != nil {
		return fmt.Errorf("upsert cache row: %w", err)
	}
	return nil
}

// purge drops rows expired longer than the retention window. Failures are
// logged; the purge is opportunistic.
func (s *EngineStore) purge(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention).UnixMilli()
	n, err := s.coll.Delete(ctx, nil, &db.Condition{Field: fieldExpiration, Op: db.OpLt, Value: cutoff})
	if err != nil {
		s.logger.Warn("Failed to purge cache rows",
			zap.String("collection", s.coll.Name()), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("Purged cache rows",
			zap.String("collection", s.coll.Name()), zap.Int64("count", n))
	}
}

// Index is the compound index the cache collection relies on.
func Index() *db.IndexDefinition {
	return &db.IndexDefinition{Keys: []db.IndexKey{
		{Field: fieldFilter},
		{Field: fieldExpiration, Descending: true},
	}}
}

// ensureIndex creates the cache index once per store. A concurrent creator
// winning the race is not an error.
func (s *EngineStore) ensureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexReady {
		return nil
	}

	want := Index()
	existing, err := s.coll.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list cache indexes: %w", err)
	}
	for i := range existing {
		if existing[i].SameFields(want) {
			s.indexReady = true
			return nil
		}
	}

	if _, err := s.coll.CreateIndex(ctx, want); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create cache index: %w", err)
	}
	s.indexReady = true
	return nil
}

func decodeRow(doc db.Document) (row, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return row{}, fmt.Errorf("encode cache row: %w", err)
	}
	var r row
	if err := bson.Unmarshal(raw, &r); err != nil {
		return row{}, fmt.Errorf("decode cache row: %w", err)
	}
	return r, nil
}

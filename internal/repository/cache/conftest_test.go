package cache

import (
	"context"
	"time"

	"github.com/kailas-cloud/minq/internal/db"
	"github.com/kailas-cloud/minq/internal/db/memory"
)

// mockKVStore implements kvStore over a map unless fn fields override it.
type mockKVStore struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	getFn   func(ctx context.Context, key string) ([]byte, error)
	setFn   func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	setCall int
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.setCall++
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

// recordingCollection wraps a memory collection and counts index calls.
type recordingCollection struct {
	db.Collection
	listCalls   int
	createCalls int
	createFn    func(ctx context.Context, def *db.IndexDefinition) (string, error)
}

func newRecordingCollection() *recordingCollection {
	return &recordingCollection{Collection: memory.New().Collection("people_cache")}
}

func (r *recordingCollection) ListIndexes(ctx context.Context) ([]db.IndexDefinition, error) {
	r.listCalls++
	return r.Collection.ListIndexes(ctx)
}

func (r *recordingCollection) CreateIndex(ctx context.Context, def *db.IndexDefinition) (string, error) {
	r.createCalls++
	if r.createFn != nil {
		return r.createFn(ctx, def)
	}
	return r.Collection.CreateIndex(ctx, def)
}

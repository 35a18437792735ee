package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

func TestEngineStore_SubSecondExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewEngineStore(newRecordingCollection(), time.Hour, zap.NewNop())

	now := time.Unix(1_700_000_000, 500_000_000)
	if err := s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte("x"), Expiration: now.Add(time.Second)}, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, nil, "f", now.Add(900*time.Millisecond)); !ok {
		t.Error("expected hit before expiration")
	}
	if _, ok, _ := s.Get(ctx, nil, "f", now.Add(1400*time.Millisecond)); ok {
		t.Error("expected miss 400ms after expiration")
	}
}

func TestEngineStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	s := NewEngineStore(coll, time.Hour, zap.NewNop())

	now := time.Unix(1_700_000_000, 0)
	payload := []byte("result set")
	err := s.Put(ctx, nil, Entry{Filter: `{"a":1}`, Payload: payload, Expiration: now.Add(time.Minute)}, now)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := s.Get(ctx, nil, `{"a":1}`, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit before expiration")
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %q, want %q", got.Payload, payload)
	}

	_, ok, err = s.Get(ctx, nil, `{"a":1}`, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected miss after expiration")
	}

	_, ok, _ = s.Get(ctx, nil, `{"b":1}`, now)
	if ok {
		t.Error("expected miss for another filter")
	}
}

func TestEngineStore_OverwritesByFilter(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	for _, p := range []string{"first", "second"} {
		if err := s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte(p), Expiration: now.Add(time.Minute)}, now); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	got, ok, _ := s.Get(ctx, nil, "f", now)
	if !ok || string(got.Payload) != "second" {
		t.Errorf("got %q, %v, want second", got.Payload, ok)
	}
	n, _ := coll.Count(ctx, nil, db.MatchAll{}, 0)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestEngineStore_PurgesOnHit(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	_ = s.Put(ctx, nil, Entry{Filter: "stale", Payload: []byte("x"), Expiration: now.Add(-2 * time.Hour)}, now)
	_ = s.Put(ctx, nil, Entry{Filter: "recent", Payload: []byte("x"), Expiration: now.Add(-time.Minute)}, now)
	_ = s.Put(ctx, nil, Entry{Filter: "live", Payload: []byte("x"), Expiration: now.Add(time.Minute)}, now)

	if _, ok, _ := s.Get(ctx, nil, "live", now); !ok {
		t.Fatal("expected hit")
	}
	n, _ := coll.Count(ctx, nil, db.MatchAll{}, 0)
	if n != 2 {
		t.Errorf("rows after purge = %d, want 2 (only the row past retention removed)", n)
	}
}

func TestEngineStore_EnsuresIndexOnce(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		_ = s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte("x"), Expiration: now}, now)
	}
	if coll.createCalls != 1 || coll.listCalls != 1 {
		t.Errorf("create = %d, list = %d, want 1/1", coll.createCalls, coll.listCalls)
	}

	idx, _ := coll.Collection.ListIndexes(ctx)
	found := false
	for i := range idx {
		if idx[i].SameFields(Index()) {
			found = true
		}
	}
	if !found {
		t.Errorf("cache index missing: %v", idx)
	}
}

func TestEngineStore_SkipsExistingEquivalentIndex(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	if _, err := coll.Collection.CreateIndex(ctx, &db.IndexDefinition{Name: "by_filter", Keys: []db.IndexKey{
		{Field: "filter"}, {Field: "expiration"},
	}}); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	if err := s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte("x"), Expiration: now}, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if coll.createCalls != 0 {
		t.Errorf("create calls = %d, want 0", coll.createCalls)
	}
}

func TestEngineStore_ToleratesIndexRace(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	coll.createFn = func(context.Context, *db.IndexDefinition) (string, error) {
		return "", &db.Error{Op: db.OpCreateIndex, Err: db.ErrIndexExists}
	}
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	if err := s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte("x"), Expiration: now}, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.ensureIndex(ctx); err != nil {
		t.Errorf("ensureIndex after race = %v, want nil", err)
	}
}

func TestEngineStore_IndexFailureDoesNotBlockWrite(t *testing.T) {
	ctx := context.Background()
	coll := newRecordingCollection()
	coll.createFn = func(context.Context, *db.IndexDefinition) (string, error) {
		return "", errors.New("not authorized")
	}
	s := NewEngineStore(coll, time.Hour, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)

	if err := s.Put(ctx, nil, Entry{Filter: "f", Payload: []byte("x"), Expiration: now}, now); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, nil, "f", now); !ok {
		t.Error("expected the row to be written")
	}
}

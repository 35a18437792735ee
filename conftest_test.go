package minq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/minq/internal/db"
	"github.com/kailas-cloud/minq/internal/db/memory"
)

// --- models ---

type address struct {
	City string `bson:"city"`
	Zip  int    `bson:"zip"`
}

type tag struct {
	Name  string `bson:"name"`
	Score int    `bson:"score"`
}

type person struct {
	Record  `bson:",inline"`
	Name    string            `bson:"name"`
	Age     int               `bson:"age"`
	Email   string            `bson:"email,omitempty"`
	Tags    []string          `bson:"tags,omitempty"`
	Labels  []tag             `bson:"labels,omitempty"`
	Attrs   map[string]string `bson:"attrs,omitempty"`
	Address address           `bson:"address"`
}

const (
	personName    Field = "name"
	personAge     Field = "age"
	personEmail   Field = "email"
	personTags    Field = "tags"
	personLabels  Field = "labels"
	personAttrs   Field = "attrs"
	personAddress Field = "address"
	addressCity   Field = "city"
)

type indexedPerson struct {
	Record `bson:",inline"`
	Name   string `bson:"name"`
	Age    int    `bson:"age"`
}

func (indexedPerson) Indexes() []Index {
	return []Index{
		NewIndex().Ascending(personName).MustBuild(),
		NewIndex().Ascending(personName, personAge).Unique().MustBuild(),
	}
}

type note struct {
	Record `bson:",inline"`
	Title  string `bson:"title"`
	Body   string `bson:"body"`
}

func (*note) SearchFields() []Field { return []Field{"title"} }

// --- clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- engine mocks ---

// mockEngine delegates to an in-memory engine unless a fn field is set.
type mockEngine struct {
	*memory.Engine
	startFn func(ctx context.Context) (db.Session, error)
	collFn  func(name string) db.Collection
}

func newMockEngine() *mockEngine {
	return &mockEngine{Engine: memory.New()}
}

func (e *mockEngine) StartTransaction(ctx context.Context) (db.Session, error) {
	if e.startFn != nil {
		return e.startFn(ctx)
	}
	return e.Engine.StartTransaction(ctx)
}

func (e *mockEngine) Collection(name string) db.Collection {
	if e.collFn != nil {
		return e.collFn(name)
	}
	return e.Engine.Collection(name)
}

// mockCollection delegates to inner unless a fn field is set, and counts
// every call.
type mockCollection struct {
	db.Collection

	mu    sync.Mutex
	calls map[string]int

	countFn  func(ctx context.Context, sess db.Session, f db.Filter, limit int64) (int64, error)
	updateFn func(ctx context.Context, sess db.Session, f db.Filter, u db.Update, many bool) (db.UpdateResult, error)
	listFn   func(ctx context.Context) ([]db.IndexDefinition, error)
	createFn func(ctx context.Context, def *db.IndexDefinition) (string, error)
	dropFn   func(ctx context.Context, name string) error
}

func newMockCollection(inner db.Collection) *mockCollection {
	return &mockCollection{Collection: inner, calls: make(map[string]int)}
}

func (c *mockCollection) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
}

func (c *mockCollection) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *mockCollection) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *mockCollection) Count(ctx context.Context, sess db.Session, f db.Filter, limit int64) (int64, error) {
	c.record(db.OpCount)
	if c.countFn != nil {
		return c.countFn(ctx, sess, f, limit)
	}
	return c.Collection.Count(ctx, sess, f, limit)
}

func (c *mockCollection) Find(ctx context.Context, sess db.Session, q *db.FindQuery) ([]db.Document, error) {
	c.record(db.OpFind)
	return c.Collection.Find(ctx, sess, q)
}

func (c *mockCollection) Insert(ctx context.Context, sess db.Session, docs []db.Document) (int64, error) {
	c.record(db.OpInsert)
	return c.Collection.Insert(ctx, sess, docs)
}

func (c *mockCollection) Update(
	ctx context.Context, sess db.Session, f db.Filter, u db.Update, many bool,
) (db.UpdateResult, error) {
	c.record(db.OpUpdate)
	if c.updateFn != nil {
		return c.updateFn(ctx, sess, f, u, many)
	}
	return c.Collection.Update(ctx, sess, f, u, many)
}

func (c *mockCollection) Upsert(ctx context.Context, sess db.Session, f db.Filter, u db.Update) (db.Document, error) {
	c.record(db.OpUpsert)
	return c.Collection.Upsert(ctx, sess, f, u)
}

func (c *mockCollection) Delete(ctx context.Context, sess db.Session, f db.Filter) (int64, error) {
	c.record(db.OpDelete)
	return c.Collection.Delete(ctx, sess, f)
}

func (c *mockCollection) ListIndexes(ctx context.Context) ([]db.IndexDefinition, error) {
	c.record(db.OpListIndexes)
	if c.listFn != nil {
		return c.listFn(ctx)
	}
	return c.Collection.ListIndexes(ctx)
}

func (c *mockCollection) CreateIndex(ctx context.Context, def *db.IndexDefinition) (string, error) {
	c.record(db.OpCreateIndex)
	if c.createFn != nil {
		return c.createFn(ctx, def)
	}
	return c.Collection.CreateIndex(ctx, def)
}

func (c *mockCollection) DropIndex(ctx context.Context, name string) error {
	c.record(db.OpDropIndex)
	if c.dropFn != nil {
		return c.dropFn(ctx, name)
	}
	return c.Collection.DropIndex(ctx, name)
}

// mockSession is a db.Session with scripted commit and abort.
type mockSession struct {
	commitFn func(ctx context.Context) error
	abortFn  func(ctx context.Context) error
	ended    int
}

func (s *mockSession) ID() string { return "mock-session" }

func (s *mockSession) Commit(ctx context.Context) error {
	if s.commitFn != nil {
		return s.commitFn(ctx)
	}
	return nil
}

func (s *mockSession) Abort(ctx context.Context) error {
	if s.abortFn != nil {
		return s.abortFn(ctx)
	}
	return nil
}

func (s *mockSession) End(_ context.Context) { s.ended++ }

// recordingAlerter collects alerts.
type recordingAlerter struct {
	ch chan Alert
}

func newRecordingAlerter() *recordingAlerter {
	return &recordingAlerter{ch: make(chan Alert, 16)}
}

func (a *recordingAlerter) Alert(_ context.Context, al Alert) error {
	a.ch <- al
	return nil
}

// --- helpers ---

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := NewInMemory(opts...)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newClientOver(t *testing.T, engine db.Engine, opts ...Option) *Client {
	t.Helper()
	cfg := defaultClientConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}
	c, err := newClient(context.Background(), engine, cfg)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newPeople(t *testing.T, c *Client) *Minq[person] {
	t.Helper()
	m, err := New[person](context.Background(), c, "people")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func seedPeople(t *testing.T, m *Minq[person], people ...person) {
	t.Helper()
	ptrs := make([]*person, len(people))
	for i := range people {
		ptrs[i] = &people[i]
	}
	if _, err := m.Insert(context.Background(), ptrs...); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func names(people []person) []string {
	out := make([]string, len(people))
	for i, p := range people {
		out[i] = p.Name
	}
	return out
}

// Package memory is an embedded engine keeping collections in process memory.
// It evaluates the same predicate and update model as the MongoDB adapter and
// is used for tests, the CLI's dry runs and single-process deployments.
//
// Transactions snapshot each collection on its first write and restore the
// snapshot on abort. Reads are not isolated from uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kailas-cloud/minq/internal/db"
)

// Compile-time check: Engine implements db.Engine.
var _ db.Engine = (*Engine)(nil)

// Engine holds named collections.
type Engine struct {
	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{collections: make(map[string]*Collection)}
}

// Ping reports whether the engine is open.
func (e *Engine) Ping(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("ping: engine closed")
	}
	return nil
}

// Collection returns the named collection, creating it on first use.
func (e *Engine) Collection(name string) db.Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		c = newCollection(name)
		e.collections[name] = c
	}
	return c
}

// StartTransaction opens a session with a running transaction.
func (e *Engine) StartTransaction(_ context.Context) (db.Session, error) {
	return &session{
		id:        uuid.NewString(),
		snapshots: make(map[*Collection][]db.Document),
	}, nil
}

// Close marks the engine closed. Data stays readable for inspection.
func (e *Engine) Close(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type sessionState int

const (
	sessionActive sessionState = iota
	sessionCommitted
	sessionAborted
)

type session struct {
	id        string
	mu        sync.Mutex
	state     sessionState
	snapshots map[*Collection][]db.Document
}

func (s *session) ID() string { return s.id }

// track records the collection's contents before the session's first write.
// The caller holds c.mu.
func (s *session) track(c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive {
		return db.ErrSessionEnded
	}
	if _, ok := s.snapshots[c]; !ok {
		s.snapshots[c] = append([]db.Document(nil), c.docs...)
	}
	return nil
}

func (s *session) active() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive {
		return db.ErrSessionEnded
	}
	return nil
}

func (s *session) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive {
		return &db.Error{Op: db.OpCommit, Err: db.ErrSessionEnded}
	}
	s.state = sessionCommitted
	s.snapshots = nil
	return nil
}

func (s *session) Abort(_ context.Context) error {
	s.mu.Lock()
	if s.state != sessionActive {
		s.mu.Unlock()
		return &db.Error{Op: db.OpAbort, Err: db.ErrSessionEnded}
	}
	s.state = sessionAborted
	snapshots := s.snapshots
	s.snapshots = nil
	s.mu.Unlock()

	for c, docs := range snapshots {
		c.mu.Lock()
		c.docs = docs
		c.mu.Unlock()
	}
	return nil
}

func (s *session) End(ctx context.Context) {
	if s.active() == nil {
		_ = s.Abort(ctx)
	}
}

// sessionFor unwraps a db.Session passed to a collection call.
func sessionFor(sess db.Session) (*session, error) {
	if sess == nil {
		return nil, nil
	}
	s, ok := sess.(*session)
	if !ok {
		return nil, fmt.Errorf("session %T does not belong to the memory engine", sess)
	}
	if err := s.active(); err != nil {
		return nil, err
	}
	return s, nil
}

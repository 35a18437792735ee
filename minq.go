package minq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// Minq is the typed facade over one collection. It is safe for concurrent
// use; the chains it returns are not.
type Minq[T any] struct {
	client *Client
	name   string
	coll   db.Collection
	cache  resultCache
	schema *schemaMeta
	logger *zap.Logger

	searchFields []Field

	mu       sync.RWMutex
	declared []Index
	report   *ReconcileReport
}

// New opens the collection name for documents of type T and its {name}_cache
// companion, then reconciles the indexes T declares through Indexed and
// WithIndexes.
func New[T any](ctx context.Context, client *Client, name string, opts ...CollectionOption) (*Minq[T], error) {
	if client == nil {
		return nil, configError("client is required")
	}
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	schema, err := parseSchema[T]()
	if err != nil {
		return nil, err
	}

	cfg := collectionConfig{reconcile: true}
	for _, o := range opts {
		o.applyCollection(&cfg)
	}

	var zero T
	declared := cfg.indexes
	if ix, ok := any(zero).(Indexed); ok {
		declared = append(ix.Indexes(), declared...)
	} else if ix, ok := any(&zero).(Indexed); ok {
		declared = append(ix.Indexes(), declared...)
	}

	searchFields := cfg.searchFields
	if len(searchFields) == 0 {
		if s, ok := any(zero).(Searchable); ok {
			searchFields = s.SearchFields()
		} else if s, ok := any(&zero).(Searchable); ok {
			searchFields = s.SearchFields()
		}
	}
	if len(searchFields) == 0 {
		for _, f := range schema.stringFields {
			if f != FieldID {
				searchFields = append(searchFields, f)
			}
		}
	}

	m := &Minq[T]{
		client:       client,
		name:         name,
		coll:         client.engine.Collection(name),
		cache:        client.newResultCache(name),
		schema:       schema,
		logger:       client.logger.With(zap.String("collection", name)),
		searchFields: searchFields,
	}

	if cfg.reconcile {
		m.report = m.DefineIndexes(ctx, declared...)
	} else {
		m.declared = declared
	}
	return m, nil
}

func validateCollectionName(name string) error {
	switch {
	case name == "":
		return configError("collection name is required")
	case strings.ContainsAny(name, "$\x00"):
		return configError("collection name %q contains '$' or NUL", name)
	case strings.HasPrefix(name, "system."):
		return configError("collection name %q uses the reserved prefix system.", name)
	}
	return nil
}

// Name returns the collection name.
func (m *Minq[T]) Name() string { return m.name }

// Where starts a request over the documents matching the predicate.
func (m *Minq[T]) Where(build func(*FilterChain)) *RequestChain[T] {
	w := newWeights()
	c := newFilterChain(m.logger, w, "")
	build(c)
	return &RequestChain[T]{m: m, filter: c.node(), weights: w, err: c.err}
}

// All starts a request over every document.
func (m *Minq[T]) All() *RequestChain[T] {
	return &RequestChain[T]{m: m, filter: db.MatchAll{}, weights: newWeights()}
}

// Insert inserts documents, assigning identity to those without one.
func (m *Minq[T]) Insert(ctx context.Context, docs ...*T) (int64, error) {
	return m.All().Insert(ctx, docs...)
}

// DefineIndexes reconciles the declared indexes against the collection.
// It never fails as a whole: per-index failures are logged, alerted and
// listed in the report.
func (m *Minq[T]) DefineIndexes(ctx context.Context, indexes ...Index) *ReconcileReport {
	r := &reconciler{
		collection: m.name,
		mgr:        m.coll,
		logger:     m.logger,
		obs:        m.client.obs,
		alerts:     m.client.alerts,
	}
	report := r.run(ctx, indexes)

	m.mu.Lock()
	for _, idx := range indexes {
		if !containsEquivalent(m.declared, idx) {
			m.declared = append(m.declared, idx)
		}
	}
	m.mu.Unlock()

	if len(indexes) > 0 {
		m.logger.Info("Indexes reconciled",
			zap.Int("created", len(report.Created)),
			zap.Int("dropped", len(report.Dropped)),
			zap.Int("skipped", len(report.Skipped)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report
}

func containsEquivalent(list []Index, idx Index) bool {
	for _, d := range list {
		if d.Equivalent(idx) {
			return true
		}
	}
	return false
}

// StartupReport returns the report of the reconciliation New ran, or nil
// when it was disabled.
func (m *Minq[T]) StartupReport() *ReconcileReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report
}

// Indexes lists the collection's current indexes, including _id_.
func (m *Minq[T]) Indexes(ctx context.Context) ([]Index, error) {
	defs, err := m.coll.ListIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	out := make([]Index, len(defs))
	for i, d := range defs {
		out[i] = Index{name: d.Name, keys: d.Keys, unique: d.Unique}
	}
	return out, nil
}

// suggestIndex logs the suggested index of a query no declared index covers.
func (m *Minq[T]) suggestIndex(w *weights) {
	if !m.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	idx, ok := FilterDefinition{weights: w.list()}.SuggestedIndex()
	if !ok {
		return
	}
	fields := idx.Fields()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.declared {
		if d.covers(fields) {
			return
		}
	}
	m.logger.Debug("Query is not covered by a declared index", zap.Stringer("suggested", idx))
}

func (m *Minq[T]) toDocument(v *T) (db.Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc db.Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

func (m *Minq[T]) fromDocument(doc db.Document) (T, error) {
	var out T
	raw, err := bson.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func (m *Minq[T]) fromDocuments(docs []db.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := m.fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

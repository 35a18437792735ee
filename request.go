package minq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// RequestChain is one request against a collection: a filter plus options,
// executed by exactly one terminal operation. A second terminal call on the
// same chain fails with ErrConsumed.
type RequestChain[T any] struct {
	m       *Minq[T]
	filter  db.Filter
	weights *weights
	err     error

	limit    int64
	sort     []db.SortKey
	tx       *Transaction
	cacheTTL time.Duration

	onAffected []RecordsAffectedHandler
	onNone     []RecordsAffectedHandler
	onAborted  []TransactionAbortedHandler

	consumed bool
}

// Limit caps reads and counts. Writes ignore it, except Update where
// Limit(1) updates a single document.
func (r *RequestChain[T]) Limit(n int64) *RequestChain[T] {
	if n < 0 {
		r.fail(invalidQuery("limit must not be negative, got %d", n))
		return r
	}
	r.limit = n
	return r
}

// Sort orders ToList and Project results.
func (r *RequestChain[T]) Sort(build func(*SortChain)) *RequestChain[T] {
	s := &SortChain{}
	build(s)
	r.sort = append(r.sort, s.keys...)
	return r
}

// And narrows the request with the sub-chain's predicates.
func (r *RequestChain[T]) And(build func(*FilterChain)) *RequestChain[T] {
	return r.combine(db.LogicAnd, build)
}

// Or widens the request: documents matching the current filter or the
// sub-chain's predicates.
func (r *RequestChain[T]) Or(build func(*FilterChain)) *RequestChain[T] {
	return r.combine(db.LogicOr, build)
}

// Not narrows the request to documents not matching the sub-chain's
// predicates taken together.
func (r *RequestChain[T]) Not(build func(*FilterChain)) *RequestChain[T] {
	return r.combine(db.LogicNot, build)
}

func (r *RequestChain[T]) combine(logic db.Logic, build func(*FilterChain)) *RequestChain[T] {
	s := newFilterChain(r.m.logger, r.weights, "")
	build(s)
	if s.err != nil {
		r.fail(s.err)
		return r
	}
	next := s.node()
	if logic == db.LogicNot {
		next = negate(s.nodes)
		if next == nil {
			return r
		}
		logic = db.LogicAnd
	}
	r.filter = merge(logic, r.filter, next)
	return r
}

// merge combines two filters, folding match-all operands and flattening a
// left group of the same logic.
func merge(logic db.Logic, a, b db.Filter) db.Filter {
	if logic == db.LogicAnd {
		if db.IsMatchAll(a) {
			return b
		}
		if db.IsMatchAll(b) {
			return a
		}
	} else if db.IsMatchAll(a) || db.IsMatchAll(b) {
		return db.MatchAll{}
	}
	if g, ok := a.(*db.Group); ok && g.Logic == logic {
		children := make([]db.Filter, 0, len(g.Children)+1)
		children = append(children, g.Children...)
		return &db.Group{Logic: logic, Children: append(children, b)}
	}
	return &db.Group{Logic: logic, Children: []db.Filter{a, b}}
}

// WithTransaction runs the terminal operation inside tx.
func (r *RequestChain[T]) WithTransaction(tx *Transaction) *RequestChain[T] {
	if r.tx != nil && r.tx != tx {
		r.fail(invalidQuery("request is already bound to transaction %s", r.tx.ID()))
		return r
	}
	r.tx = tx
	return r
}

// Cached serves ToList from the result cache, storing fresh results for ttl.
func (r *RequestChain[T]) Cached(ttl time.Duration) *RequestChain[T] {
	if ttl <= 0 {
		r.fail(invalidQuery("cache ttl must be positive, got %s", ttl))
		return r
	}
	r.cacheTTL = ttl
	return r
}

// OnRecordsAffected registers a handler fired when the terminal operation
// affects at least one document.
func (r *RequestChain[T]) OnRecordsAffected(h RecordsAffectedHandler) *RequestChain[T] {
	r.onAffected = append(r.onAffected, h)
	return r
}

// OnNoneAffected registers a handler fired when the terminal operation
// affects no document.
func (r *RequestChain[T]) OnNoneAffected(h RecordsAffectedHandler) *RequestChain[T] {
	r.onNone = append(r.onNone, h)
	return r
}

// OnTransactionAborted registers a handler fired when the terminal operation
// is skipped because its transaction is no longer open.
func (r *RequestChain[T]) OnTransactionAborted(h TransactionAbortedHandler) *RequestChain[T] {
	r.onAborted = append(r.onAborted, h)
	return r
}

// Filter returns the request's predicate.
func (r *RequestChain[T]) Filter() (FilterDefinition, error) {
	if r.err != nil {
		return FilterDefinition{}, r.err
	}
	return FilterDefinition{filter: r.filter, weights: r.weights.list()}, nil
}

func (r *RequestChain[T]) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// begin claims the chain for op. skip is true when the bound transaction is
// no longer open; the caller then returns a zero result without an engine call.
func (r *RequestChain[T]) begin(op Operation) (skip bool, err error) {
	if r.consumed {
		return false, fmt.Errorf("%w: cannot run %s on %s", ErrConsumed, op, r.m.name)
	}
	r.consumed = true
	if r.err != nil {
		return false, r.err
	}
	if r.tx != nil && !r.tx.IsOpen() {
		r.m.logger.Warn("Operation skipped, transaction is not open",
			zap.String("op", string(op)),
			zap.String("transaction", r.tx.ID()),
			zap.Stringer("state", r.tx.State()),
		)
		ev := TransactionAbortedEvent{Collection: r.m.name, Operation: op, Transaction: r.tx}
		for _, h := range r.onAborted {
			h(ev)
		}
		return true, nil
	}
	return false, nil
}

// finish observes the operation, remaps engine errors, aborts the bound
// transaction on failure and fires the affected handlers on success.
func (r *RequestChain[T]) finish(ctx context.Context, op Operation, start time.Time, affected int64, err error) error {
	if err != nil && errors.Is(err, db.ErrWriteConflict) {
		err = &WriteConflictError{Collection: r.m.name, Operation: op, Err: err}
	}
	r.m.client.obs.observe(r.m.name, op, start, err)
	if err != nil {
		if r.tx != nil {
			r.tx.abortAfter(ctx, err)
		}
		return err
	}
	if op == OpCount {
		return nil
	}

	ev := RecordsAffectedEvent{Collection: r.m.name, Operation: op, Affected: affected, Transaction: r.tx}
	handlers := r.onAffected
	if affected == 0 {
		handlers = r.onNone
	}
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (r *RequestChain[T]) session() db.Session {
	return txSession(r.tx)
}

// execute claims the chain and runs fn synchronously.
func execute[T, V any](r *RequestChain[T], op Operation, fn func() (V, error)) (V, error) {
	var zero V
	skip, err := r.begin(op)
	if err != nil || skip {
		return zero, err
	}
	return fn()
}

// executeAsync claims the chain on the calling goroutine and runs fn on the
// client's worker pool.
func executeAsync[T, V any](r *RequestChain[T], op Operation, fn func() (V, error)) *Future[V] {
	skip, err := r.begin(op)
	if err != nil || skip {
		return failedFuture[V](err)
	}
	return runAsync(r.m.client.pool, fn)
}

// Count returns the number of matching documents, capped by Limit.
func (r *RequestChain[T]) Count(ctx context.Context) (int64, error) {
	return execute(r, OpCount, func() (int64, error) { return r.count(ctx) })
}

// CountAsync is Count on the worker pool.
func (r *RequestChain[T]) CountAsync(ctx context.Context) *Future[int64] {
	return executeAsync(r, OpCount, func() (int64, error) { return r.count(ctx) })
}

func (r *RequestChain[T]) count(ctx context.Context) (int64, error) {
	if len(r.onAffected)+len(r.onNone) > 0 {
		r.m.logger.Warn("Records affected handlers are not fired for count")
	}
	start := time.Now()
	n, err := r.m.coll.Count(ctx, r.session(), r.filter, r.limit)
	return n, r.finish(ctx, OpCount, start, n, err)
}

// Delete removes every matching document and returns how many were removed.
func (r *RequestChain[T]) Delete(ctx context.Context) (int64, error) {
	return execute(r, OpDelete, func() (int64, error) { return r.delete(ctx) })
}

// DeleteAsync is Delete on the worker pool.
func (r *RequestChain[T]) DeleteAsync(ctx context.Context) *Future[int64] {
	return executeAsync(r, OpDelete, func() (int64, error) { return r.delete(ctx) })
}

func (r *RequestChain[T]) delete(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := r.m.coll.Delete(ctx, r.session(), r.filter)
	return n, r.finish(ctx, OpDelete, start, n, err)
}

// Insert inserts documents in order. Documents embedding Record get an id and
// creation time when they have none; the assigned values are written back.
func (r *RequestChain[T]) Insert(ctx context.Context, docs ...*T) (int64, error) {
	return execute(r, OpInsert, func() (int64, error) { return r.insert(ctx, docs) })
}

func (r *RequestChain[T]) insert(ctx context.Context, items []*T) (int64, error) {
	start := time.Now()
	now := r.m.client.now()
	docs := make([]db.Document, 0, len(items))
	for _, item := range items {
		if item == nil {
			return 0, r.finish(ctx, OpInsert, start, 0, invalidQuery("nil document"))
		}
		r.m.schema.identify(any(item), uuid.NewString, now)
		doc, err := r.m.toDocument(item)
		if err != nil {
			return 0, r.finish(ctx, OpInsert, start, 0, err)
		}
		docs = append(docs, doc)
	}
	n, err := r.m.coll.Insert(ctx, r.session(), docs)
	return n, r.finish(ctx, OpInsert, start, n, err)
}

// ToList returns the matching documents, honoring Sort, Limit and Cached.
func (r *RequestChain[T]) ToList(ctx context.Context) ([]T, error) {
	return execute(r, OpToList, func() ([]T, error) { return r.toList(ctx) })
}

// ToListAsync is ToList on the worker pool.
func (r *RequestChain[T]) ToListAsync(ctx context.Context) *Future[[]T] {
	return executeAsync(r, OpToList, func() ([]T, error) { return r.toList(ctx) })
}

func (r *RequestChain[T]) toList(ctx context.Context) ([]T, error) {
	start := time.Now()

	var key string
	if r.cacheTTL > 0 {
		var err error
		key, err = r.cacheKey()
		if err != nil {
			return nil, r.finish(ctx, OpToList, start, 0, err)
		}
		if rows, ok, _ := r.m.checkCache(ctx, key, r.session()); ok {
			return rows, r.finish(ctx, OpToList, start, int64(len(rows)), nil)
		}
	}

	r.m.suggestIndex(r.weights)
	docs, err := r.m.coll.Find(ctx, r.session(), &db.FindQuery{
		Filter: r.filter,
		Sort:   r.sort,
		Limit:  r.limit,
	})
	if err != nil {
		return nil, r.finish(ctx, OpToList, start, 0, err)
	}
	rows, err := r.m.fromDocuments(docs)
	if err != nil {
		return nil, r.finish(ctx, OpToList, start, 0, err)
	}

	if r.cacheTTL > 0 {
		if err := r.m.storeCache(ctx, key, docs, r.cacheTTL, r.session()); err != nil {
			r.m.logger.Warn("Failed to cache result set", zap.Error(err))
		}
	}
	return rows, r.finish(ctx, OpToList, start, int64(len(rows)), nil)
}

// cacheKey is the canonical filter, suffixed with sort and limit when set so
// differently shaped result sets do not share an entry.
func (r *RequestChain[T]) cacheKey() (string, error) {
	key, err := db.CanonicalString(r.filter)
	if err != nil {
		return "", fmt.Errorf("render cache key: %w", err)
	}
	if len(r.sort) > 0 {
		raw, err := bson.MarshalExtJSON(db.RenderSort(r.sort), true, false)
		if err != nil {
			return "", fmt.Errorf("render cache key: %w", err)
		}
		key += "|sort:" + string(raw)
	}
	if r.limit > 0 {
		key += "|limit:" + strconv.FormatInt(r.limit, 10)
	}
	return key, nil
}

// Update applies the mutations to every matching document, or to one with
// Limit(1), and returns how many documents changed.
func (r *RequestChain[T]) Update(ctx context.Context, build func(*UpdateChain)) (int64, error) {
	return execute(r, OpUpdate, func() (int64, error) { return r.update(ctx, build) })
}

// UpdateAsync is Update on the worker pool.
func (r *RequestChain[T]) UpdateAsync(ctx context.Context, build func(*UpdateChain)) *Future[int64] {
	return executeAsync(r, OpUpdate, func() (int64, error) { return r.update(ctx, build) })
}

func (r *RequestChain[T]) update(ctx context.Context, build func(*UpdateChain)) (int64, error) {
	start := time.Now()
	def, err := r.buildUpdate(build)
	if err != nil {
		return 0, r.finish(ctx, OpUpdate, start, 0, err)
	}
	res, err := r.m.coll.Update(ctx, r.session(), r.filter, def.update, r.limit != 1)
	return res.Modified, r.finish(ctx, OpUpdate, start, res.Modified, err)
}

func (r *RequestChain[T]) buildUpdate(build func(*UpdateChain)) (UpdateDefinition, error) {
	c := newUpdateChain(r.m.schema.shapes, r.m.client.now)
	build(c)
	return c.Build()
}

// Upsert updates the first matching document or inserts a new one built from
// the filter's equality conditions and the mutations. It returns the
// resulting document.
func (r *RequestChain[T]) Upsert(ctx context.Context, build func(*UpdateChain)) (T, error) {
	return execute(r, OpUpsert, func() (T, error) { return r.upsert(ctx, build) })
}

func (r *RequestChain[T]) upsert(ctx context.Context, build func(*UpdateChain)) (T, error) {
	var zero T
	start := time.Now()
	def, err := r.buildUpdate(build)
	if err != nil {
		return zero, r.finish(ctx, OpUpsert, start, 0, err)
	}

	u := def.update
	if r.m.schema.identifiable {
		if !def.touches(FieldID) && !filterPins(r.filter, FieldID) {
			u = u.With(db.UpdateOp{Kind: db.UpdateSetOnInsert, Field: string(FieldID), Value: uuid.NewString()})
		}
		if !def.touches(FieldCreatedOn) && !filterPins(r.filter, FieldCreatedOn) {
			u = u.With(db.UpdateOp{
				Kind: db.UpdateSetOnInsert, Field: string(FieldCreatedOn), Value: r.m.client.now().Unix(),
			})
		}
	}

	doc, err := r.m.coll.Upsert(ctx, r.session(), r.filter, u)
	if err != nil {
		return zero, r.finish(ctx, OpUpsert, start, 0, err)
	}
	out, err := r.m.fromDocument(doc)
	if err != nil {
		return zero, r.finish(ctx, OpUpsert, start, 0, err)
	}
	return out, r.finish(ctx, OpUpsert, start, 1, nil)
}

// filterPins reports whether f fixes field through a top-level equality.
func filterPins(f db.Filter, field Field) bool {
	switch n := f.(type) {
	case *db.Condition:
		return n.Field == string(field) && n.Op == db.OpEq && !n.Negate
	case *db.Group:
		if n.Logic != db.LogicAnd {
			return false
		}
		for _, c := range n.Children {
			if filterPins(c, field) {
				return true
			}
		}
	}
	return false
}

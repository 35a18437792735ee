package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kailas-cloud/minq/internal/db"
)

// Compile-time check: Collection implements db.Collection.
var _ db.Collection = (*Collection)(nil)

// Collection is one in-memory collection. Stored documents are never
// mutated in place; writes replace them with updated copies.
type Collection struct {
	name    string
	mu      sync.RWMutex
	docs    []db.Document
	indexes []db.IndexDefinition
}

func newCollection(name string) *Collection {
	return &Collection{
		name: name,
		indexes: []db.IndexDefinition{{
			Name:   db.IDIndexName,
			Keys:   []db.IndexKey{{Field: "_id"}},
			Unique: true,
		}},
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Count returns the number of matching documents, capped at limit when positive.
func (c *Collection) Count(_ context.Context, sess db.Session, f db.Filter, limit int64) (int64, error) {
	if _, err := sessionFor(sess); err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := newMatcher()
	var n int64
	for _, doc := range c.docs {
		ok, err := m.matches(doc, f)
		if err != nil {
			return 0, &db.Error{Op: db.OpCount, Err: err}
		}
		if ok {
			n++
			if limit > 0 && n >= limit {
				break
			}
		}
	}
	return n, nil
}

// Find returns copies of the matching documents.
func (c *Collection) Find(_ context.Context, sess db.Session, q *db.FindQuery) ([]db.Document, error) {
	if _, err := sessionFor(sess); err != nil {
		return nil, &db.Error{Op: db.OpFind, Err: err}
	}
	c.mu.RLock()
	matched, err := c.matching(q.Filter)
	docs := make([]db.Document, 0, len(matched))
	for _, idx := range matched {
		docs = append(docs, c.docs[idx])
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, &db.Error{Op: db.OpFind, Err: err}
	}

	if len(q.Sort) > 0 {
		sortDocs(docs, q.Sort)
	}
	return finish(docs, q)
}

func finish(docs []db.Document, q *db.FindQuery) ([]db.Document, error) {
	if q.Limit > 0 && int64(len(docs)) > q.Limit {
		docs = docs[:q.Limit]
	}
	out := make([]db.Document, 0, len(docs))
	for _, doc := range docs {
		cp, err := cloneDoc(doc)
		if err != nil {
			return nil, &db.Error{Op: db.OpFind, Err: err}
		}
		if len(q.Projection) > 0 {
			cp = project(cp, q.Projection)
		}
		out = append(out, cp)
	}
	return out, nil
}

// matching returns the positions of documents matching f. The caller holds c.mu.
func (c *Collection) matching(f db.Filter) ([]int, error) {
	m := newMatcher()
	var out []int
	for i, doc := range c.docs {
		ok, err := m.matches(doc, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}

func sortDocs(docs []db.Document, keys []db.SortKey) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := getPath(docs[i], k.Field)
			b, _ := getPath(docs[j], k.Field)
			c := sortCompare(a, b)
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(doc db.Document, fields []string) db.Document {
	out := db.Document{}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for _, f := range fields {
		if v, ok := getPath(doc, f); ok {
			_ = setPath(out, f, v)
		}
	}
	return out
}

// Insert stores copies of docs in order, stopping at the first failure.
func (c *Collection) Insert(_ context.Context, sess db.Session, docs []db.Document) (int64, error) {
	s, err := sessionFor(sess)
	if err != nil {
		return 0, &db.Error{Op: db.OpInsert, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s != nil {
		if err := s.track(c); err != nil {
			return 0, &db.Error{Op: db.OpInsert, Err: err}
		}
	}

	var n int64
	for _, doc := range docs {
		cp, err := cloneDoc(doc)
		if err != nil {
			return n, &db.Error{Op: db.OpInsert, Err: err}
		}
		if _, ok := cp["_id"]; !ok {
			cp["_id"] = primitive.NewObjectID()
		}
		if err := c.checkUnique(cp, -1); err != nil {
			return n, &db.Error{Op: db.OpInsert, Err: err}
		}
		c.docs = append(c.docs, cp)
		n++
	}
	return n, nil
}

// Update applies u to the first or every matching document. Either every
// matching document is updated or none is.
func (c *Collection) Update(
	_ context.Context, sess db.Session, f db.Filter, u db.Update, many bool,
) (db.UpdateResult, error) {
	s, err := sessionFor(sess)
	if err != nil {
		return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
	}
	if err := checkConflicts(u); err != nil {
		return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	matched, err := c.matching(f)
	if err != nil {
		return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
	}
	if !many && len(matched) > 1 {
		matched = matched[:1]
	}

	m := newMatcher()
	updated := make(map[int]db.Document, len(matched))
	var res db.UpdateResult
	for _, idx := range matched {
		cp, err := cloneDoc(c.docs[idx])
		if err != nil {
			return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
		}
		if err := applyUpdate(cp, u, m, false); err != nil {
			return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
		}
		res.Matched++
		if !sameDoc(c.docs[idx], cp) {
			res.Modified++
			updated[idx] = cp
		}
	}

	for idx, doc := range updated {
		if err := c.checkUniqueAgainst(doc, idx, updated); err != nil {
			return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
		}
	}
	if len(updated) > 0 && s != nil {
		if err := s.track(c); err != nil {
			return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
		}
	}
	for idx, doc := range updated {
		c.docs[idx] = doc
	}
	return res, nil
}

// Upsert updates the first matching document or inserts one seeded from the
// filter's top-level equality conditions. It returns the resulting document.
func (c *Collection) Upsert(_ context.Context, sess db.Session, f db.Filter, u db.Update) (db.Document, error) {
	s, err := sessionFor(sess)
	if err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	if err := checkConflicts(u); err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	matched, err := c.matching(f)
	if err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}

	m := newMatcher()
	idx := -1
	var doc db.Document
	if len(matched) > 0 {
		idx = matched[0]
		doc, err = cloneDoc(c.docs[idx])
	} else {
		doc, err = seedFromFilter(f)
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	if err := applyUpdate(doc, u, m, idx < 0); err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = primitive.NewObjectID()
	}
	if err := c.checkUnique(doc, idx); err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	if s != nil {
		if err := s.track(c); err != nil {
			return nil, &db.Error{Op: db.OpUpsert, Err: err}
		}
	}
	if idx < 0 {
		c.docs = append(c.docs, doc)
	} else {
		c.docs[idx] = doc
	}

	out, err := cloneDoc(doc)
	if err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	return out, nil
}

// seedFromFilter builds the base document of an upsert insert.
func seedFromFilter(f db.Filter) (db.Document, error) {
	doc := db.Document{}
	var walk func(db.Filter) error
	walk = func(n db.Filter) error {
		switch t := n.(type) {
		case *db.Condition:
			if t.Op != db.OpEq || t.Negate {
				return nil
			}
			return setNormalized(doc, t.Field, t.Value)
		case *db.Group:
			if t.Logic != db.LogicAnd && len(t.Children) != 1 {
				return nil
			}
			if t.Logic == db.LogicNot {
				return nil
			}
			for _, ch := range t.Children {
				if err := walk(ch); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(f); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes every matching document.
func (c *Collection) Delete(_ context.Context, sess db.Session, f db.Filter) (int64, error) {
	s, err := sessionFor(sess)
	if err != nil {
		return 0, &db.Error{Op: db.OpDelete, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	matched, err := c.matching(f)
	if err != nil {
		return 0, &db.Error{Op: db.OpDelete, Err: err}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	if s != nil {
		if err := s.track(c); err != nil {
			return 0, &db.Error{Op: db.OpDelete, Err: err}
		}
	}

	drop := make(map[int]bool, len(matched))
	for _, idx := range matched {
		drop[idx] = true
	}
	kept := make([]db.Document, 0, len(c.docs)-len(matched))
	for i, doc := range c.docs {
		if !drop[i] {
			kept = append(kept, doc)
		}
	}
	c.docs = kept
	return int64(len(matched)), nil
}

// ListIndexes returns copies of the index definitions.
func (c *Collection) ListIndexes(_ context.Context) ([]db.IndexDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]db.IndexDefinition, len(c.indexes))
	for i, idx := range c.indexes {
		out[i] = db.IndexDefinition{
			Name:   idx.Name,
			Keys:   append([]db.IndexKey(nil), idx.Keys...),
			Unique: idx.Unique,
		}
	}
	return out, nil
}

// CreateIndex adds an index. Re-creating an identical index is a no-op;
// a clash on name or key pattern with different options is ErrIndexExists.
func (c *Collection) CreateIndex(_ context.Context, def *db.IndexDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	name := def.Name
	if name == "" {
		name = defaultIndexName(def.Keys)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, idx := range c.indexes {
		sameKeys := sameKeyPattern(idx.Keys, def.Keys)
		if idx.Name == name && sameKeys && idx.Unique == def.Unique {
			return name, nil
		}
		if idx.Name == name {
			return "", &db.Error{Op: db.OpCreateIndex,
				Err: fmt.Errorf("%w: an index named %q has different keys or options", db.ErrIndexExists, name)}
		}
		if sameKeys {
			return "", &db.Error{Op: db.OpCreateIndex,
				Err: fmt.Errorf("%w: index %q already covers this key pattern", db.ErrIndexExists, idx.Name)}
		}
	}

	created := db.IndexDefinition{Name: name, Keys: append([]db.IndexKey(nil), def.Keys...), Unique: def.Unique}
	if created.Unique {
		seen := make(map[string]bool, len(c.docs))
		for _, doc := range c.docs {
			k := indexKey(doc, &created)
			if seen[k] {
				return "", &db.Error{Op: db.OpCreateIndex,
					Err: fmt.Errorf("%w: existing documents violate unique index %s", db.ErrDuplicateKey, name)}
			}
			seen[k] = true
		}
	}
	c.indexes = append(c.indexes, created)
	return name, nil
}

// DropIndex removes an index by name.
func (c *Collection) DropIndex(_ context.Context, name string) error {
	if name == db.IDIndexName {
		return &db.Error{Op: db.OpDropIndex, Err: fmt.Errorf("cannot drop _id index")}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, idx := range c.indexes {
		if idx.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return &db.Error{Op: db.OpDropIndex, Err: fmt.Errorf("%w: %s", db.ErrIndexNotFound, name)}
}

func sameKeyPattern(a, b []db.IndexKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func defaultIndexName(keys []db.IndexKey) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		dir := 1
		if k.Descending {
			dir = -1
		}
		parts = append(parts, k.Field, strconv.Itoa(dir))
	}
	return strings.Join(parts, "_")
}

// checkUnique verifies doc against unique indexes, skipping position self.
// The caller holds c.mu.
func (c *Collection) checkUnique(doc db.Document, self int) error {
	return c.checkUniqueAgainst(doc, self, nil)
}

// checkUniqueAgainst is checkUnique where pending replaces stored documents.
func (c *Collection) checkUniqueAgainst(doc db.Document, self int, pending map[int]db.Document) error {
	for i := range c.indexes {
		idx := &c.indexes[i]
		if !idx.Unique {
			continue
		}
		k := indexKey(doc, idx)
		for pos, other := range c.docs {
			if pos == self {
				continue
			}
			if p, ok := pending[pos]; ok {
				other = p
			}
			if indexKey(other, idx) == k {
				return fmt.Errorf("%w: index %s dup key %s", db.ErrDuplicateKey, idx.Name, k)
			}
		}
	}
	return nil
}

func indexKey(doc db.Document, idx *db.IndexDefinition) string {
	vals := make(bson.A, len(idx.Keys))
	for i, k := range idx.Keys {
		v, _ := getPath(doc, k.Field)
		vals[i] = v
	}
	b, err := bson.MarshalExtJSON(bson.M{"k": vals}, true, false)
	if err != nil {
		return fmt.Sprint(vals...)
	}
	return string(b)
}

func sameDoc(a, b db.Document) bool {
	ra, errA := bson.Marshal(a)
	rb, errB := bson.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var x, y bson.D
	if bson.Unmarshal(ra, &x) != nil || bson.Unmarshal(rb, &y) != nil {
		return false
	}
	return equalD(x, y)
}

// equalD compares documents ignoring key order, which bson.M does not keep.
func equalD(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	bm := b.Map()
	for _, e := range a {
		v, ok := bm[e.Key]
		if !ok {
			return false
		}
		if !sameValue(e.Value, v) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	switch x := a.(type) {
	case bson.D:
		y, ok := b.(bson.D)
		return ok && equalD(x, y)
	case bson.A:
		y, ok := b.(bson.A)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !sameValue(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return equal(a, b) && sortRank(a) == sortRank(b)
	}
}

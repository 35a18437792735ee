package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kailas-cloud/minq/internal/db"
)

// Compile-time check: Collection implements db.Collection.
var _ db.Collection = (*Collection)(nil)

// Collection wraps a driver collection.
type Collection struct {
	coll *mongo.Collection
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.coll.Name() }

// Count counts matching documents, capped at limit when positive.
func (c *Collection) Count(ctx context.Context, sess db.Session, f db.Filter, limit int64) (int64, error) {
	ctx, err := bind(ctx, sess)
	if err != nil {
		return 0, &db.Error{Op: db.OpCount, Err: err}
	}
	opts := options.Count()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	n, err := c.coll.CountDocuments(ctx, db.RenderFilter(f), opts)
	if err != nil {
		return 0, wrap(db.OpCount, err)
	}
	return n, nil
}

// Find returns matching documents.
func (c *Collection) Find(ctx context.Context, sess db.Session, q *db.FindQuery) ([]db.Document, error) {
	ctx, err := bind(ctx, sess)
	if err != nil {
		return nil, &db.Error{Op: db.OpFind, Err: err}
	}
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(db.RenderSort(q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if len(q.Projection) > 0 {
		proj := make(bson.D, 0, len(q.Projection))
		for _, f := range q.Projection {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		opts.SetProjection(proj)
	}

	cur, err := c.coll.Find(ctx, db.RenderFilter(q.Filter), opts)
	if err != nil {
		return nil, wrap(db.OpFind, err)
	}
	var docs []db.Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(db.OpFind, err)
	}
	return docs, nil
}

// Insert inserts documents in order.
func (c *Collection) Insert(ctx context.Context, sess db.Session, docs []db.Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	ctx, err := bind(ctx, sess)
	if err != nil {
		return 0, &db.Error{Op: db.OpInsert, Err: err}
	}
	batch := make([]any, len(docs))
	for i := range docs {
		batch[i] = docs[i]
	}
	res, err := c.coll.InsertMany(ctx, batch)
	if err != nil {
		var n int64
		if res != nil {
			n = int64(len(res.InsertedIDs))
		}
		return n, wrap(db.OpInsert, err)
	}
	return int64(len(res.InsertedIDs)), nil
}

// Update applies u to the first or every matching document.
func (c *Collection) Update(
	ctx context.Context, sess db.Session, f db.Filter, u db.Update, many bool,
) (db.UpdateResult, error) {
	ctx, err := bind(ctx, sess)
	if err != nil {
		return db.UpdateResult{}, &db.Error{Op: db.OpUpdate, Err: err}
	}
	var res *mongo.UpdateResult
	if many {
		res, err = c.coll.UpdateMany(ctx, db.RenderFilter(f), db.RenderUpdate(u))
	} else {
		res, err = c.coll.UpdateOne(ctx, db.RenderFilter(f), db.RenderUpdate(u))
	}
	if err != nil {
		return db.UpdateResult{}, wrap(db.OpUpdate, err)
	}
	return db.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// Upsert updates the first matching document or inserts one, returning the result.
func (c *Collection) Upsert(ctx context.Context, sess db.Session, f db.Filter, u db.Update) (db.Document, error) {
	ctx, err := bind(ctx, sess)
	if err != nil {
		return nil, &db.Error{Op: db.OpUpsert, Err: err}
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc db.Document
	if err := c.coll.FindOneAndUpdate(ctx, db.RenderFilter(f), db.RenderUpdate(u), opts).Decode(&doc); err != nil {
		return nil, wrap(db.OpUpsert, err)
	}
	return doc, nil
}

// Delete removes every matching document.
func (c *Collection) Delete(ctx context.Context, sess db.Session, f db.Filter) (int64, error) {
	ctx, err := bind(ctx, sess)
	if err != nil {
		return 0, &db.Error{Op: db.OpDelete, Err: err}
	}
	res, err := c.coll.DeleteMany(ctx, db.RenderFilter(f))
	if err != nil {
		return 0, wrap(db.OpDelete, err)
	}
	return res.DeletedCount, nil
}

// indexSpec is the listIndexes row shape. Key keeps field order.
type indexSpec struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
}

// ListIndexes returns the collection's indexes in server order.
func (c *Collection) ListIndexes(ctx context.Context) ([]db.IndexDefinition, error) {
	cur, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, wrap(db.OpListIndexes, err)
	}
	var specs []indexSpec
	if err := cur.All(ctx, &specs); err != nil {
		return nil, wrap(db.OpListIndexes, err)
	}

	out := make([]db.IndexDefinition, 0, len(specs))
	for _, s := range specs {
		def := db.IndexDefinition{Name: s.Name, Unique: s.Unique}
		for _, k := range s.Key {
			def.Keys = append(def.Keys, db.IndexKey{Field: k.Key, Descending: isDescending(k.Value)})
		}
		out = append(out, def)
	}
	return out, nil
}

func isDescending(v any) bool {
	switch n := v.(type) {
	case int32:
		return n < 0
	case int64:
		return n < 0
	case float64:
		return n < 0
	default:
		return false
	}
}

// CreateIndex creates an index and returns its name.
func (c *Collection) CreateIndex(ctx context.Context, def *db.IndexDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	opts := options.Index()
	if def.Name != "" {
		opts.SetName(def.Name)
	}
	if def.Unique {
		opts.SetUnique(true)
	}
	name, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    db.RenderIndexKeys(def.Keys),
		Options: opts,
	})
	if err != nil {
		return "", wrap(db.OpCreateIndex, err)
	}
	return name, nil
}

// DropIndex drops an index by name.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if _, err := c.coll.Indexes().DropOne(ctx, name); err != nil {
		return wrap(db.OpDropIndex, err)
	}
	return nil
}

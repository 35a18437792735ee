package minq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kailas-cloud/minq/internal/db"
)

// Project runs r and returns the value of one field per matching document,
// decoded as U. Documents without the field are skipped. It is a terminal
// operation of r.
func Project[T, U any](ctx context.Context, r *RequestChain[T], field Field) ([]U, error) {
	return execute(r, OpProject, func() ([]U, error) { return project[T, U](ctx, r, field) })
}

func project[T, U any](ctx context.Context, r *RequestChain[T], field Field) ([]U, error) {
	start := time.Now()
	if field == "" {
		return nil, r.finish(ctx, OpProject, start, 0, invalidQuery("projection field is required"))
	}
	docs, err := r.m.coll.Find(ctx, r.session(), &db.FindQuery{
		Filter:     r.filter,
		Sort:       r.sort,
		Limit:      r.limit,
		Projection: []string{string(field)},
	})
	if err != nil {
		return nil, r.finish(ctx, OpProject, start, 0, err)
	}

	out := make([]U, 0, len(docs))
	for _, d := range docs {
		v, ok := lookupField(d, string(field))
		if !ok {
			continue
		}
		u, err := decodeValue[U](v)
		if err != nil {
			return nil, r.finish(ctx, OpProject, start, 0, fmt.Errorf("decode %s: %w", field, err))
		}
		out = append(out, u)
	}
	return out, r.finish(ctx, OpProject, start, int64(len(out)), nil)
}

// lookupField follows a dotted path through nested documents.
func lookupField(doc db.Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func decodeValue[U any](v any) (U, error) {
	var wrapper struct {
		V U `bson:"v"`
	}
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return wrapper.V, err
	}
	err = bson.Unmarshal(raw, &wrapper)
	return wrapper.V, err
}

package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is a decoded engine document. Values follow bson decoding rules
// (int32/int64/float64, string, bson.A, bson.M, primitive.DateTime, ...).
type Document = bson.M

// Engine is the document database facade combining all sub-interfaces.
type Engine interface {
	Pinger
	Collection(name string) Collection
	StartTransaction(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collection is a single named collection. Consumers use the narrow sub-interfaces.
type Collection interface {
	Name() string
	Reader
	Writer
	IndexManager
}

// Reader provides query operations. sess may be nil.
type Reader interface {
	Count(ctx context.Context, sess Session, f Filter, limit int64) (int64, error)
	Find(ctx context.Context, sess Session, q *FindQuery) ([]Document, error)
}

// Writer provides mutation operations. sess may be nil.
type Writer interface {
	Insert(ctx context.Context, sess Session, docs []Document) (int64, error)
	Update(ctx context.Context, sess Session, f Filter, u Update, many bool) (UpdateResult, error)
	Upsert(ctx context.Context, sess Session, f Filter, u Update) (Document, error)
	Delete(ctx context.Context, sess Session, f Filter) (int64, error)
}

// IndexManager provides index lifecycle operations.
type IndexManager interface {
	ListIndexes(ctx context.Context) ([]IndexDefinition, error)
	CreateIndex(ctx context.Context, def *IndexDefinition) (string, error)
	DropIndex(ctx context.Context, name string) error
}

// Session is one engine session with an open transaction.
type Session interface {
	ID() string
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context)
}

// FindQuery is the input for Find.
type FindQuery struct {
	Filter     Filter
	Sort       []SortKey
	Limit      int64
	Projection []string
}

// SortKey orders results by a single field.
type SortKey struct {
	Field      string
	Descending bool
}

// UpdateResult reports how many documents matched and changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

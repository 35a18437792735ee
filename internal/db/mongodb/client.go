// Package mongodb implements the engine interfaces over the official MongoDB driver.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kailas-cloud/minq/internal/db"
)

// Compile-time check: Engine implements db.Engine.
var _ db.Engine = (*Engine)(nil)

// Config holds connection parameters.
type Config struct {
	URI      string
	Database string
	AppName  string
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
}

// Engine is one MongoDB client bound to a database.
type Engine struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect creates a client and verifies it with a ping against the primary.
func Connect(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Engine{client: client, db: client.Database(cfg.Database)}, nil
}

// Ping checks connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Collection returns a handle to the named collection.
func (e *Engine) Collection(name string) db.Collection {
	return &Collection{coll: e.db.Collection(name)}
}

// StartTransaction starts a session with an open transaction.
func (e *Engine) StartTransaction(ctx context.Context) (db.Session, error) {
	sess, err := e.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return newSession(sess), nil
}

// Close disconnects the client.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

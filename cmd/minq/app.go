package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq"
	"github.com/kailas-cloud/minq/internal/config"
	logpkg "github.com/kailas-cloud/minq/internal/logger"
)

// document is the schemaless model the CLI opens collections with.
type document struct {
	minq.Record `bson:",inline"`
	Fields      bson.M `bson:",inline"`
}

// app is the composition root shared by the subcommands.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
	reg    *prometheus.Registry
	client *minq.Client
}

func loadApp(ctx context.Context) (*app, error) {
	env := envName
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logpkg.New(env, level)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	client, err := openClient(ctx, cfg, logger, reg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{env: env, cfg: cfg, logger: logger, reg: reg, client: client}, nil
}

// openClient connects to the configured database, or to the in-memory
// engine when no connection string is set.
func openClient(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*minq.Client, error) {
	opts := []minq.Option{
		minq.WithLogger(logger),
		minq.WithMetrics(reg),
		minq.WithCacheRetention(time.Duration(cfg.Cache.RetentionSec) * time.Second),
	}
	if cfg.Cache.Driver == config.CacheRedis {
		opts = append(opts, minq.WithRedisCache(cfg.Cache.Addrs, cfg.Cache.Password))
	}

	if cfg.Database.ConnectionString == "" {
		logger.Warn("No connection string configured, using the in-memory engine")
		return minq.NewInMemory(opts...)
	}
	return minq.Connect(ctx, cfg.Database.ConnectionString, cfg.Database.Name, opts...)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.client.Close(ctx); err != nil {
		a.logger.Warn("Failed to close client", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// declaredIndexes converts a collection's config into index declarations.
func declaredIndexes(coll config.CollectionConfig) ([]minq.Index, error) {
	out := make([]minq.Index, 0, len(coll.Indexes))
	for i, ic := range coll.Indexes {
		b := minq.NewIndex()
		for _, k := range ic.Keys {
			if field, ok := strings.CutPrefix(k, "-"); ok {
				b.Descending(minq.Field(field))
			} else {
				b.Ascending(minq.Field(k))
			}
		}
		if ic.Name != "" {
			b.Named(ic.Name)
		}
		if ic.Unique {
			b.Unique()
		}
		idx, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("collections.%s.indexes[%d]: %w", coll.Name, i, err)
		}
		out = append(out, idx)
	}
	return out, nil
}

// collection opens name without reconciling.
func (a *app) collection(ctx context.Context, name string) (*minq.Minq[document], error) {
	return minq.New[document](ctx, a.client, name, minq.WithoutReconciliation())
}

// reconcile runs the configured declarations of name.
func (a *app) reconcile(ctx context.Context, name string) (*minq.ReconcileReport, error) {
	coll, ok := a.cfg.Collection(name)
	if !ok {
		return nil, fmt.Errorf("collection %q is not configured", name)
	}
	indexes, err := declaredIndexes(coll)
	if err != nil {
		return nil, err
	}
	m, err := a.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.DefineIndexes(ctx, indexes...), nil
}

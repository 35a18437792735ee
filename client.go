package minq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
	"github.com/kailas-cloud/minq/internal/db/memory"
	"github.com/kailas-cloud/minq/internal/db/mongodb"
	dbRedis "github.com/kailas-cloud/minq/internal/db/redis"
	"github.com/kailas-cloud/minq/internal/repository/cache"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	alertWorkers            = 4
)

// Client is the shared connection handle. Create one per process and pass it
// to New for every collection; it is safe for concurrent use.
type Client struct {
	engine db.Engine
	redis  *dbRedis.Store
	cfg    clientConfig
	logger *zap.Logger
	obs    *observer
	pool   *ants.Pool
	alerts *alertDispatcher
}

// Connect connects to a MongoDB deployment and verifies it with a ping.
// An empty connection string or database is an ErrConfiguration.
func Connect(ctx context.Context, connectionString, database string, opts ...Option) (*Client, error) {
	if connectionString == "" {
		return nil, configError("connection string is required")
	}
	if database == "" {
		return nil, configError("database name is required")
	}
	cfg := defaultClientConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}

	engine, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      connectionString,
		Database: database,
		AppName:  "minq",
	})
	if err != nil {
		return nil, fmt.Errorf("minq: connect: %w", err)
	}

	c, err := newClient(ctx, engine, cfg)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}
	c.logger.Info("Connected", zap.String("database", database))
	return c, nil
}

// NewInMemory returns a client over the embedded in-memory engine.
func NewInMemory(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}
	return newClient(context.Background(), memory.New(), cfg)
}

func newClient(ctx context.Context, engine db.Engine, cfg clientConfig) (*Client, error) {
	logger := cfg.logger.Named("minq")
	obs, err := newObserver(logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.asyncWorkers, ants.WithPanicHandler(func(v any) {
		logger.Error("Async operation panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("minq: create worker pool: %w", err)
	}

	alerter := cfg.alerter
	if alerter == nil {
		alerter = NewLogAlerter(logger.Named("alerts"))
	}
	alerts, err := newAlertDispatcher(alerter, alertWorkers, logger, obs)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("minq: create alert dispatcher: %w", err)
	}

	c := &Client{
		engine: engine,
		cfg:    cfg,
		logger: logger,
		obs:    obs,
		pool:   pool,
		alerts: alerts,
	}

	if len(cfg.redisAddrs) > 0 {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.redisAddrs,
			Password: cfg.redisPassword,
		})
		if err != nil {
			c.release()
			return nil, fmt.Errorf("minq: create redis cache: %w", err)
		}
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			c.release()
			return nil, fmt.Errorf("minq: redis cache not ready: %w", err)
		}
		c.redis = store
	}
	return c, nil
}

// resultCache is the consumer interface for cache stores (ISP).
type resultCache interface {
	Get(ctx context.Context, sess db.Session, filter string, now time.Time) (cache.Entry, bool, error)
	Put(ctx context.Context, sess db.Session, e cache.Entry, now time.Time) error
}

// newResultCache returns the cache store for one collection.
func (c *Client) newResultCache(collection string) resultCache {
	logger := c.logger.With(zap.String("collection", collection))
	if c.redis != nil {
		return cache.NewRedisStore(c.redis, collection, c.cfg.cacheRetention, logger)
	}
	return cache.NewEngineStore(c.engine.Collection(collection+"_cache"), c.cfg.cacheRetention, logger)
}

func (c *Client) now() time.Time {
	return c.cfg.clock()
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	err := c.engine.Ping(ctx)
	if err == nil && c.redis != nil {
		err = c.redis.Ping(ctx)
	}
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close waits for queued async operations and releases all resources.
func (c *Client) Close(ctx context.Context) error {
	c.release()
	if c.redis != nil {
		c.redis.Close()
	}
	if err := c.engine.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (c *Client) release() {
	err := c.pool.ReleaseTimeout(3 * time.Second)
	if err != nil && !errors.Is(err, ants.ErrPoolClosed) {
		c.logger.Warn("Async operations still running at close", zap.Error(err))
	}
	c.alerts.close()
}

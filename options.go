package minq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultCacheRetention = 24 * time.Hour
	DefaultAsyncWorkers   = 16
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	logger     *zap.Logger
	metricsReg prometheus.Registerer
	alerter    Alerter
	clock      func() time.Time

	redisAddrs    []string
	redisPassword string

	cacheRetention time.Duration
	asyncWorkers   int
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger:         zap.NewNop(),
		clock:          time.Now,
		cacheRetention: DefaultCacheRetention,
		asyncWorkers:   DefaultAsyncWorkers,
	}
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	})
}

// WithMetrics registers operation, cache, index and alert metrics on the
// given registerer. Pass nil to disable (default).
func WithMetrics(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}

// WithRedisCache stores cached result sets in Redis instead of the
// companion {name}_cache collections.
func WithRedisCache(addrs []string, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.redisAddrs = addrs
		c.redisPassword = password
	})
}

// WithAlerter sets the collaborator notified about repeated index creation
// failures. Defaults to a LogAlerter over the client logger.
func WithAlerter(a Alerter) Option {
	return optionFunc(func(c *clientConfig) {
		c.alerter = a
	})
}

// WithClock overrides the time source used for cache expiration, CreatedOn
// and SetToCurrentTimestamp.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *clientConfig) {
		if now != nil {
			c.clock = now
		}
	})
}

// WithCacheRetention sets how long expired cache rows are kept before the
// opportunistic purge removes them. Default: 24h.
func WithCacheRetention(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		if d > 0 {
			c.cacheRetention = d
		}
	})
}

// WithAsyncWorkers sets the size of the worker pool behind the *Async
// terminals and alert dispatch. Default: 16.
func WithAsyncWorkers(n int) Option {
	return optionFunc(func(c *clientConfig) {
		if n > 0 {
			c.asyncWorkers = n
		}
	})
}

// CollectionOption configures a Minq facade.
type CollectionOption interface {
	applyCollection(*collectionConfig)
}

type collectionOptionFunc func(*collectionConfig)

func (f collectionOptionFunc) applyCollection(c *collectionConfig) { f(c) }

type collectionConfig struct {
	indexes      []Index
	reconcile    bool
	searchFields []Field
}

// WithIndexes declares indexes in addition to those returned by the model's
// Indexes method.
func WithIndexes(indexes ...Index) CollectionOption {
	return collectionOptionFunc(func(c *collectionConfig) {
		c.indexes = append(c.indexes, indexes...)
	})
}

// WithoutReconciliation skips index reconciliation in New. Call
// DefineIndexes explicitly instead.
func WithoutReconciliation() CollectionOption {
	return collectionOptionFunc(func(c *collectionConfig) {
		c.reconcile = false
	})
}

// WithSearchFields overrides the fields Search looks at.
func WithSearchFields(fields ...Field) CollectionOption {
	return collectionOptionFunc(func(c *collectionConfig) {
		c.searchFields = fields
	})
}

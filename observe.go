package minq

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// queryMetrics holds prometheus metrics registered for the query layer.
type queryMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cache        *prometheus.CounterVec
	indexActions *prometheus.CounterVec
	alerts       *prometheus.CounterVec
}

func newQueryMetrics(reg prometheus.Registerer) (*queryMetrics, error) {
	m := &queryMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minq",
			Name:      "operations_total",
			Help:      "Total terminal operations by collection, operation and status.",
		}, []string{"collection", "op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "minq",
			Name:      "operation_duration_seconds",
			Help:      "Terminal operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection", "op"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minq",
			Name:      "cache_total",
			Help:      "Result cache lookups by collection and result (hit, miss, error).",
		}, []string{"collection", "result"}),
		indexActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minq",
			Name:      "index_actions_total",
			Help:      "Index reconciliation actions by collection and action.",
		}, []string{"collection", "action"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "minq",
			Name:      "alerts_total",
			Help:      "Alerts raised by title.",
		}, []string{"title"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.cache); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.indexActions); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.alerts); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("minq: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("minq: register metric: %w", err)
	}
	return nil
}

// observer provides logging and metrics for terminal operations.
type observer struct {
	logger  *zap.Logger
	metrics *queryMetrics
}

func newObserver(logger *zap.Logger, reg prometheus.Registerer) (*observer, error) {
	var m *queryMetrics
	if reg != nil {
		var err error
		m, err = newQueryMetrics(reg)
		if err != nil {
			return nil, err
		}
	}
	return &observer{logger: logger, metrics: m}, nil
}

func (o *observer) observe(collection string, op Operation, start time.Time, err error) {
	if o == nil {
		return
	}
	dur := time.Since(start)

	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.operations.WithLabelValues(collection, string(op), status).Inc()
		o.metrics.duration.WithLabelValues(collection, string(op)).Observe(dur.Seconds())
	}

	if err != nil {
		o.logger.Warn("Operation failed",
			zap.String("collection", collection),
			zap.String("op", string(op)),
			zap.Duration("duration", dur),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("Operation completed",
		zap.String("collection", collection),
		zap.String("op", string(op)),
		zap.Duration("duration", dur),
	)
}

func (o *observer) cacheResult(collection, result string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.cache.WithLabelValues(collection, result).Inc()
}

func (o *observer) indexAction(collection, action string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.indexActions.WithLabelValues(collection, action).Inc()
}

func (o *observer) alert(title string) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.alerts.WithLabelValues(title).Inc()
}

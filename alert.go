package minq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Alert describes a condition an operator should look at. The alerting
// collaborator fires once CountRequired alerts with the same title arrive
// within Timeframe.
type Alert struct {
	Title         string
	Message       string
	Impact        string
	CountRequired int
	Timeframe     time.Duration
}

// Alerter receives alerts. Implementations must be safe for concurrent use.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter is the default Alerter. It counts alerts per title within the
// alert timeframe and, once the required count is reached, logs at most one
// error per timeframe.
type LogAlerter struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*alertWindow
}

type alertWindow struct {
	hits    []time.Time
	limiter *rate.Limiter
}

// NewLogAlerter creates a LogAlerter over logger.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*alertWindow),
	}
}

// Alert records a trigger and logs the alert when it fires.
func (a *LogAlerter) Alert(_ context.Context, al Alert) error {
	now := a.now()

	a.mu.Lock()
	w, ok := a.windows[al.Title]
	if !ok {
		limit := rate.Inf
		if al.Timeframe > 0 {
			limit = rate.Every(al.Timeframe)
		}
		w = &alertWindow{limiter: rate.NewLimiter(limit, 1)}
		a.windows[al.Title] = w
	}
	cutoff := now.Add(-al.Timeframe)
	kept := w.hits[:0]
	for _, t := range w.hits {
		if al.Timeframe <= 0 || t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hits = append(kept, now)
	count := len(w.hits)
	fire := count >= max(al.CountRequired, 1) && w.limiter.AllowN(now, 1)
	a.mu.Unlock()

	if !fire {
		a.logger.Debug("Alert triggered",
			zap.String("title", al.Title), zap.Int("count", count), zap.Int("required", al.CountRequired))
		return nil
	}
	a.logger.Error(al.Title,
		zap.String("message", al.Message),
		zap.String("impact", al.Impact),
		zap.Int("count", count),
		zap.Duration("timeframe", al.Timeframe),
	)
	return nil
}

// alertDispatcher hands alerts to the Alerter off the calling goroutine.
// A full pool drops the alert.
type alertDispatcher struct {
	alerter Alerter
	pool    *ants.Pool
	logger  *zap.Logger
	obs     *observer
}

func newAlertDispatcher(alerter Alerter, size int, logger *zap.Logger, obs *observer) (*alertDispatcher, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(true), ants.WithPanicHandler(func(v any) {
		logger.Error("Alerter panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	return &alertDispatcher{alerter: alerter, pool: pool, logger: logger, obs: obs}, nil
}

func (d *alertDispatcher) raise(a Alert) {
	d.obs.alert(a.Title)
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.alerter.Alert(ctx, a); err != nil {
			d.logger.Warn("Failed to raise alert", zap.String("title", a.Title), zap.Error(err))
		}
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			d.logger.Warn("Alert dropped, dispatcher is busy", zap.String("title", a.Title))
			return
		}
		d.logger.Warn("Failed to dispatch alert", zap.String("title", a.Title), zap.Error(err))
	}
}

func (d *alertDispatcher) close() {
	_ = d.pool.ReleaseTimeout(3 * time.Second)
}

package minq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// Index creation failure alert parameters.
const (
	indexAlertCount     = 3
	indexAlertTimeframe = time.Hour
)

// ReconcileReport lists what DefineIndexes did, by index name.
type ReconcileReport struct {
	Created []string
	Dropped []string
	Skipped []string
	Failed  []IndexFailure
}

// IndexFailure is one declared index that could not be reconciled.
type IndexFailure struct {
	Index string
	Err   error
}

// OK reports whether every declared index was reconciled.
func (r *ReconcileReport) OK() bool {
	return len(r.Failed) == 0
}

// indexManager is the consumer interface for index lifecycle (ISP).
type indexManager interface {
	ListIndexes(ctx context.Context) ([]db.IndexDefinition, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) (string, error)
	DropIndex(ctx context.Context, name string) error
}

// reconciler brings a collection's indexes in line with its declarations.
type reconciler struct {
	collection string
	mgr        indexManager
	logger     *zap.Logger
	obs        *observer
	alerts     *alertDispatcher

	existing []db.IndexDefinition
	nextAuto int
}

// run reconciles declared indexes. The existing list is read once and kept
// current as indexes are dropped and created. Failures are per index.
func (r *reconciler) run(ctx context.Context, declared []Index) *ReconcileReport {
	report := &ReconcileReport{}
	if len(declared) == 0 {
		return report
	}

	existing, err := r.mgr.ListIndexes(ctx)
	if err != nil {
		r.logger.Error("Failed to list indexes", zap.Error(err))
		for _, idx := range declared {
			report.Failed = append(report.Failed, IndexFailure{Index: idx.String(), Err: err})
		}
		return report
	}
	r.existing = existing
	r.nextAuto = nextAutoIndex(existing)

	for _, idx := range declared {
		r.reconcileOne(ctx, idx, report)
	}
	return report
}

func (r *reconciler) reconcileOne(ctx context.Context, idx Index, report *ReconcileReport) {
	want := idx.definition()
	match := r.find(func(d *db.IndexDefinition) bool { return d.SameFields(want) })

	switch {
	case match == nil:
		if want.Name == "" {
			want.Name = r.autoName()
		} else if holder := r.find(func(d *db.IndexDefinition) bool { return d.Name == want.Name }); holder != nil {
			// The name is taken by an index over other fields.
			if !r.drop(ctx, holder.Name, idx, report) {
				return
			}
		}
		r.create(ctx, want, idx, report)

	case match.Name == db.IDIndexName:
		r.skip(match.Name, report)

	case match.Unique != want.Unique:
		if want.Name == "" {
			want.Name = match.Name
		}
		if !r.drop(ctx, match.Name, idx, report) {
			return
		}
		r.create(ctx, want, idx, report)

	case want.Name != "" && want.Name != match.Name:
		r.logger.Warn("Equivalent index exists under another name, recreating",
			zap.String("existing", match.Name), zap.String("declared", want.Name))
		if !r.drop(ctx, match.Name, idx, report) {
			return
		}
		r.create(ctx, want, idx, report)

	default:
		r.skip(match.Name, report)
	}
}

func (r *reconciler) find(pred func(*db.IndexDefinition) bool) *db.IndexDefinition {
	for i := range r.existing {
		if pred(&r.existing[i]) {
			return &r.existing[i]
		}
	}
	return nil
}

func (r *reconciler) autoName() string {
	name := AutoIndexPrefix + strconv.Itoa(r.nextAuto)
	r.nextAuto++
	return name
}

func (r *reconciler) skip(name string, report *ReconcileReport) {
	r.logger.Debug("Index already covered", zap.String("index", name))
	r.obs.indexAction(r.collection, "skip")
	report.Skipped = append(report.Skipped, name)
}

func (r *reconciler) drop(ctx context.Context, name string, idx Index, report *ReconcileReport) bool {
	if err := r.mgr.DropIndex(ctx, name); err != nil {
		r.logger.Error("Failed to drop index", zap.String("index", name), zap.Error(err))
		r.obs.indexAction(r.collection, "fail")
		report.Failed = append(report.Failed, IndexFailure{Index: idx.String(), Err: err})
		return false
	}
	r.logger.Info("Dropped index", zap.String("index", name))
	r.obs.indexAction(r.collection, "drop")
	report.Dropped = append(report.Dropped, name)

	kept := r.existing[:0]
	for _, d := range r.existing {
		if d.Name != name {
			kept = append(kept, d)
		}
	}
	r.existing = kept
	return true
}

func (r *reconciler) create(ctx context.Context, def *db.IndexDefinition, idx Index, report *ReconcileReport) {
	name, err := r.mgr.CreateIndex(ctx, def)
	if err != nil {
		r.logger.Error("Failed to create index", zap.String("index", def.String()), zap.Error(err))
		r.obs.indexAction(r.collection, "fail")
		report.Failed = append(report.Failed, IndexFailure{Index: idx.String(), Err: err})
		if r.alerts != nil {
			r.alerts.raise(Alert{
				Title:         fmt.Sprintf("minq: index creation failed on %s", r.collection),
				Message:       fmt.Sprintf("creating index %s on %s: %v", def, r.collection, err),
				Impact:        "Queries relying on this index scan the whole collection.",
				CountRequired: indexAlertCount,
				Timeframe:     indexAlertTimeframe,
			})
		}
		return
	}
	if name == "" {
		name = def.Name
	}
	r.logger.Info("Created index", zap.String("index", name), zap.Bool("unique", def.Unique))
	r.obs.indexAction(r.collection, "create")
	report.Created = append(report.Created, name)

	created := *def
	created.Name = name
	r.existing = append(r.existing, created)
}

// nextAutoIndex returns one past the highest auto-name counter in use.
func nextAutoIndex(existing []db.IndexDefinition) int {
	next := 1
	for _, d := range existing {
		n, ok := strings.CutPrefix(d.Name, AutoIndexPrefix)
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(n); err == nil && v >= next {
			next = v + 1
		}
	}
	return next
}

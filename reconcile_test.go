package minq

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
	"github.com/kailas-cloud/minq/internal/db/memory"
)

func newReconciler(mgr indexManager, alerts *alertDispatcher) *reconciler {
	return &reconciler{collection: "people", mgr: mgr, logger: zap.NewNop(), alerts: alerts}
}

func memoryCollection(t *testing.T, defs ...db.IndexDefinition) *mockCollection {
	t.Helper()
	coll := newMockCollection(memory.New().Collection("people"))
	for i := range defs {
		if _, err := coll.Collection.CreateIndex(context.Background(), &defs[i]); err != nil {
			t.Fatalf("seed index %s: %v", defs[i].String(), err)
		}
	}
	return coll
}

func TestReconcile_CreatesAutoNamed(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{Name: "minq_4", Keys: []db.IndexKey{{Field: "x"}}})
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{
		NewIndex().Ascending("a").MustBuild(),
		NewIndex().Ascending("b").Named("by_b").MustBuild(),
		NewIndex().Ascending("c").MustBuild(),
	})

	if want := []string{"minq_5", "by_b", "minq_6"}; !reflect.DeepEqual(report.Created, want) {
		t.Errorf("Created = %v, want %v", report.Created, want)
	}
	if !report.OK() {
		t.Errorf("Failed = %v", report.Failed)
	}
	if n := coll.callCount(db.OpListIndexes); n != 1 {
		t.Errorf("ListIndexes calls = %d, want 1", n)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	coll := memoryCollection(t)
	r := newReconciler(coll, nil)
	declared := []Index{
		NewIndex().Ascending("a", "b").MustBuild(),
		NewIndex().Ascending("c").Unique().Named("by_c").MustBuild(),
	}

	first := r.run(context.Background(), declared)
	second := r.run(context.Background(), declared)

	if len(first.Created) != 2 {
		t.Errorf("first Created = %v, want 2 entries", first.Created)
	}
	if len(second.Created) != 0 || len(second.Dropped) != 0 {
		t.Errorf("second run changed indexes: %+v", second)
	}
	if want := []string{"minq_1", "by_c"}; !reflect.DeepEqual(second.Skipped, want) {
		t.Errorf("second Skipped = %v, want %v", second.Skipped, want)
	}
	if n := coll.callCount(db.OpCreateIndex); n != 2 {
		t.Errorf("CreateIndex calls = %d, want 2", n)
	}
}

func TestReconcile_UniquenessChangeRecreates(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{
		Name: "minq_1", Keys: []db.IndexKey{{Field: "a"}, {Field: "b"}}, Unique: true,
	})
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("a", "b").MustBuild()})

	if !reflect.DeepEqual(report.Dropped, []string{"minq_1"}) {
		t.Errorf("Dropped = %v, want [minq_1]", report.Dropped)
	}
	if !reflect.DeepEqual(report.Created, []string{"minq_1"}) {
		t.Errorf("Created = %v, want the same slot name", report.Created)
	}
	defs, _ := coll.Collection.ListIndexes(context.Background())
	for _, d := range defs {
		if d.Name == "minq_1" && d.Unique {
			t.Error("index is still unique")
		}
	}
}

func TestReconcile_MatchingIndexMakesNoCalls(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{
		Name: "existing", Keys: []db.IndexKey{{Field: "a"}, {Field: "b"}},
	})
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("a", "b").MustBuild()})

	if !reflect.DeepEqual(report.Skipped, []string{"existing"}) {
		t.Errorf("Skipped = %v, want [existing]", report.Skipped)
	}
	if n := coll.callCount(db.OpCreateIndex) + coll.callCount(db.OpDropIndex); n != 0 {
		t.Errorf("create/drop calls = %d, want 0", n)
	}
}

func TestReconcile_DeclaredNameDiffers(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{Name: "old_name", Keys: []db.IndexKey{{Field: "a"}}})
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("a").Named("new_name").MustBuild()})

	if !reflect.DeepEqual(report.Dropped, []string{"old_name"}) {
		t.Errorf("Dropped = %v", report.Dropped)
	}
	if !reflect.DeepEqual(report.Created, []string{"new_name"}) {
		t.Errorf("Created = %v", report.Created)
	}
}

func TestReconcile_NameHeldByOtherKeys(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{Name: "by_x", Keys: []db.IndexKey{{Field: "a"}}})
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("b").Named("by_x").MustBuild()})

	if !reflect.DeepEqual(report.Dropped, []string{"by_x"}) || !reflect.DeepEqual(report.Created, []string{"by_x"}) {
		t.Errorf("report = %+v", report)
	}
}

func TestReconcile_IDIndexIsNeverTouched(t *testing.T) {
	coll := memoryCollection(t)
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("_id").Unique().MustBuild()})

	if !reflect.DeepEqual(report.Skipped, []string{"_id_"}) {
		t.Errorf("Skipped = %v, want [_id_]", report.Skipped)
	}
	if coll.callCount(db.OpDropIndex) != 0 {
		t.Error("_id_ must not be dropped")
	}
}

func TestReconcile_FailuresAreIsolatedAndAlerted(t *testing.T) {
	coll := memoryCollection(t)
	boom := errors.New("boom")
	coll.createFn = func(ctx context.Context, def *db.IndexDefinition) (string, error) {
		if def.Keys[0].Field == "bad" {
			return "", boom
		}
		return coll.Collection.CreateIndex(ctx, def)
	}

	alerter := newRecordingAlerter()
	alerts, err := newAlertDispatcher(alerter, 1, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("newAlertDispatcher: %v", err)
	}
	defer alerts.close()
	r := newReconciler(coll, alerts)

	report := r.run(context.Background(), []Index{
		NewIndex().Ascending("bad").MustBuild(),
		NewIndex().Ascending("good").MustBuild(),
	})

	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].Err, boom) {
		t.Fatalf("Failed = %v, want one boom failure", report.Failed)
	}
	if !reflect.DeepEqual(report.Created, []string{"minq_2"}) {
		t.Errorf("Created = %v, want [minq_2]", report.Created)
	}

	select {
	case a := <-alerter.ch:
		if a.CountRequired != 3 || a.Timeframe != time.Hour {
			t.Errorf("alert = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert raised")
	}
}

func TestReconcile_DropFailureSkipsCreate(t *testing.T) {
	coll := memoryCollection(t, db.IndexDefinition{
		Name: "minq_1", Keys: []db.IndexKey{{Field: "a"}}, Unique: true,
	})
	coll.dropFn = func(context.Context, string) error { return errors.New("locked") }
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{NewIndex().Ascending("a").MustBuild()})

	if len(report.Failed) != 1 {
		t.Errorf("Failed = %v, want 1", report.Failed)
	}
	if coll.callCount(db.OpCreateIndex) != 0 {
		t.Error("create attempted after failed drop")
	}
}

func TestReconcile_ListFailure(t *testing.T) {
	coll := memoryCollection(t)
	coll.listFn = func(context.Context) ([]db.IndexDefinition, error) { return nil, errors.New("offline") }
	r := newReconciler(coll, nil)

	report := r.run(context.Background(), []Index{
		NewIndex().Ascending("a").MustBuild(),
		NewIndex().Ascending("b").MustBuild(),
	})
	if len(report.Failed) != 2 {
		t.Errorf("Failed = %v, want 2", report.Failed)
	}
	if coll.callCount(db.OpCreateIndex) != 0 {
		t.Error("create attempted without an index list")
	}
}

func TestNextAutoIndex(t *testing.T) {
	tests := []struct {
		names []string
		want  int
	}{
		{nil, 1},
		{[]string{"_id_", "name_1"}, 1},
		{[]string{"minq_2", "minq_10", "minq_x"}, 11},
	}
	for _, tt := range tests {
		defs := make([]db.IndexDefinition, len(tt.names))
		for i, n := range tt.names {
			defs[i].Name = n
		}
		if got := nextAutoIndex(defs); got != tt.want {
			t.Errorf("nextAutoIndex(%v) = %d, want %d", tt.names, got, tt.want)
		}
	}
}

func TestNew_ReconcilesDeclaredIndexes(t *testing.T) {
	c := newTestClient(t)
	m, err := New[indexedPerson](context.Background(), c, "indexed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	report := m.StartupReport()
	if report == nil || len(report.Created) != 2 {
		t.Fatalf("StartupReport() = %+v, want 2 created", report)
	}

	again, err := New[indexedPerson](context.Background(), c, "indexed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := again.StartupReport(); len(got.Created) != 0 || len(got.Skipped) != 2 {
		t.Errorf("second StartupReport() = %+v, want 2 skipped", got)
	}

	idx, err := m.Indexes(context.Background())
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	if len(idx) != 3 {
		t.Errorf("Indexes() = %v, want _id_ plus 2", idx)
	}
}

func TestNew_WithoutReconciliation(t *testing.T) {
	c := newTestClient(t)
	m, err := New[indexedPerson](context.Background(), c, "lazy", WithoutReconciliation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.StartupReport() != nil {
		t.Error("expected no startup report")
	}
	idx, _ := m.Indexes(context.Background())
	if len(idx) != 1 {
		t.Errorf("Indexes() = %v, want only _id_", idx)
	}
}

package minq

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zobs "go.uber.org/zap/zaptest/observer"
)

func newObservedAlerter(now func() time.Time) (*LogAlerter, *zobs.ObservedLogs) {
	core, logs := zobs.New(zapcore.DebugLevel)
	a := NewLogAlerter(zap.New(core))
	a.now = now
	return a, logs
}

func fired(logs *zobs.ObservedLogs) int {
	return logs.FilterLevelExact(zapcore.ErrorLevel).Len()
}

func TestLogAlerter_Threshold(t *testing.T) {
	clock := newFakeClock()
	a, logs := newObservedAlerter(clock.Now)
	al := Alert{Title: "index failed", CountRequired: 3, Timeframe: time.Hour}

	for i := range 2 {
		_ = a.Alert(context.Background(), al)
		if got := fired(logs); got != 0 {
			t.Fatalf("alert %d fired early (%d)", i+1, got)
		}
		clock.Advance(time.Minute)
	}
	_ = a.Alert(context.Background(), al)
	if got := fired(logs); got != 1 {
		t.Errorf("fired = %d after reaching the threshold, want 1", got)
	}
	entry := logs.FilterLevelExact(zapcore.ErrorLevel).All()[0]
	if entry.Message != "index failed" {
		t.Errorf("message = %q", entry.Message)
	}
}

func TestLogAlerter_WindowExpires(t *testing.T) {
	clock := newFakeClock()
	a, logs := newObservedAlerter(clock.Now)
	al := Alert{Title: "t", CountRequired: 2, Timeframe: time.Minute}

	_ = a.Alert(context.Background(), al)
	clock.Advance(2 * time.Minute)
	_ = a.Alert(context.Background(), al)
	if got := fired(logs); got != 0 {
		t.Errorf("fired = %d with hits outside the timeframe, want 0", got)
	}
}

func TestLogAlerter_Throttle(t *testing.T) {
	clock := newFakeClock()
	a, logs := newObservedAlerter(clock.Now)
	al := Alert{Title: "t", CountRequired: 1, Timeframe: time.Hour}

	for range 5 {
		_ = a.Alert(context.Background(), al)
		clock.Advance(time.Minute)
	}
	if got := fired(logs); got != 1 {
		t.Errorf("fired = %d within one timeframe, want 1", got)
	}

	clock.Advance(time.Hour)
	_ = a.Alert(context.Background(), al)
	if got := fired(logs); got != 2 {
		t.Errorf("fired = %d after the timeframe, want 2", got)
	}
}

func TestLogAlerter_TitlesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	a, logs := newObservedAlerter(clock.Now)

	_ = a.Alert(context.Background(), Alert{Title: "a", CountRequired: 1, Timeframe: time.Hour})
	_ = a.Alert(context.Background(), Alert{Title: "b", CountRequired: 1, Timeframe: time.Hour})
	if got := fired(logs); got != 2 {
		t.Errorf("fired = %d, want 2", got)
	}
}

func TestAlertDispatcher_Raise(t *testing.T) {
	rec := newRecordingAlerter()
	d, err := newAlertDispatcher(rec, 1, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("newAlertDispatcher: %v", err)
	}
	defer d.close()

	d.raise(Alert{Title: "x"})
	select {
	case got := <-rec.ch:
		if got.Title != "x" {
			t.Errorf("Title = %q", got.Title)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert not delivered")
	}
}

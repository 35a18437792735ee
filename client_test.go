package minq

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestConnect_RequiresParameters(t *testing.T) {
	tests := []struct {
		name, conn, database string
	}{
		{"no connection string", "", "app"},
		{"no database", "mongodb://localhost:27017", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(context.Background(), tt.conn, tt.database)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNewInMemory_PingClose(t *testing.T) {
	c, err := NewInMemory(WithLogger(zap.NewNop()), WithAsyncWorkers(2), WithCacheRetention(time.Hour))
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestClient_Options(t *testing.T) {
	clock := newFakeClock()
	rec := newRecordingAlerter()
	c := newTestClient(t, WithClock(clock.Now), WithAlerter(rec), WithCacheRetention(time.Minute))

	if !c.now().Equal(clock.Now()) {
		t.Errorf("now() = %v, want %v", c.now(), clock.Now())
	}
	if c.cfg.cacheRetention != time.Minute {
		t.Errorf("cacheRetention = %v", c.cfg.cacheRetention)
	}
	c.alerts.raise(Alert{Title: "ping"})
	select {
	case a := <-rec.ch:
		if a.Title != "ping" {
			t.Errorf("Title = %q", a.Title)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("custom alerter not used")
	}
}

func TestClient_Defaults(t *testing.T) {
	cfg := defaultClientConfig()
	if cfg.cacheRetention != DefaultCacheRetention || cfg.asyncWorkers != DefaultAsyncWorkers {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.logger == nil || cfg.clock == nil {
		t.Error("logger and clock must default to non-nil")
	}
}

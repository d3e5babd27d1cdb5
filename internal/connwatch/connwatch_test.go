package connwatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/docent/internal/events"
)

func testConfig() Config {
	return Config{
		InitialDelay: time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.InitialDelay != 2*time.Second || cfg.PollInterval != time.Minute || cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg = Config{InitialDelay: time.Hour, PollInterval: time.Minute}
	cfg.applyDefaults()
	if cfg.InitialDelay != time.Minute {
		t.Errorf("InitialDelay = %s, want capped at poll interval", cfg.InitialDelay)
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	m := NewManager(testConfig(), nil, nil)
	defer m.Stop()

	w := m.Watch(context.Background(), "ollama", func(context.Context) error { return nil })
	waitFor(t, "ready", w.IsReady)

	st := w.Status()
	if st.Name != "ollama" || st.LastError != "" || st.LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false with all services up")
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(testConfig(), nil, nil)
	defer m.Stop()

	w := m.Watch(context.Background(), "embeddings", func(context.Context) error {
		if calls.Add(1) < 4 {
			return errors.New("connection refused")
		}
		return nil
	})
	waitFor(t, "recovery", w.IsReady)
	if calls.Load() < 4 {
		t.Errorf("probe calls = %d, want at least 4", calls.Load())
	}
}

func TestWatcher_TransitionsPublishEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var down atomic.Bool
	m := NewManager(testConfig(), bus, nil)
	w := m.Watch(context.Background(), "searxng", func(context.Context) error {
		if down.Load() {
			return errors.New("503")
		}
		return nil
	})
	defer m.Stop()

	next := func() events.Event {
		t.Helper()
		select {
		case e := <-ch:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return events.Event{}
		}
	}

	if e := next(); e.Kind != events.KindServiceReady || e.Data["service"] != "searxng" {
		t.Fatalf("first event = %+v", e)
	}

	down.Store(true)
	e := next()
	if e.Kind != events.KindServiceDown || e.Source != events.SourceHealth {
		t.Fatalf("second event = %+v", e)
	}
	if e.Data["error"] != "503" {
		t.Errorf("down error = %v", e.Data["error"])
	}
	waitFor(t, "not ready", func() bool { return !w.IsReady() })
	if m.Healthy() {
		t.Error("Healthy() = true with a service down")
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ProbeTimeout = 5 * time.Millisecond
	m := NewManager(cfg, nil, nil)
	defer m.Stop()

	w := m.Watch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	waitFor(t, "probe error", func() bool { return w.Status().LastError != "" })
	if w.IsReady() {
		t.Error("timed-out probe reported ready")
	}
}

func TestManager_WatchTwiceReturnsSame(t *testing.T) {
	m := NewManager(testConfig(), nil, nil)
	defer m.Stop()
	probe := func(context.Context) error { return nil }
	a := m.Watch(context.Background(), "x", probe)
	b := m.Watch(context.Background(), "x", probe)
	if a != b {
		t.Error("second Watch created a new watcher")
	}
	if n := len(m.Status()); n != 1 {
		t.Errorf("Status() has %d entries, want 1", n)
	}
}

func TestManager_StatusSorted(t *testing.T) {
	m := NewManager(testConfig(), nil, nil)
	defer m.Stop()
	probe := func(context.Context) error { return nil }
	for _, name := range []string{"search", "embeddings", "models"} {
		m.Watch(context.Background(), name, probe)
	}
	got := m.Status()
	if got[0].Name != "embeddings" || got[1].Name != "models" || got[2].Name != "search" {
		t.Errorf("order = %v", got)
	}
}

func TestManager_StopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(testConfig(), nil, nil)
	w := m.Watch(ctx, "x", func(context.Context) error { return nil })
	cancel()
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit on context cancel")
	}
	m.Stop()
}

func TestNilManagerHealthy(t *testing.T) {
	var m *Manager
	if !m.Healthy() {
		t.Error("nil manager should be healthy")
	}
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL)
	ctx := context.Background()

	if err := probe(ctx); err != nil {
		t.Errorf("200: %v", err)
	}
	status.Store(http.StatusNotFound)
	if err := probe(ctx); err != nil {
		t.Errorf("404 should count as reachable: %v", err)
	}
	status.Store(http.StatusBadGateway)
	if err := probe(ctx); err == nil {
		t.Error("502 should fail")
	}

	srv.Close()
	if err := probe(ctx); err == nil {
		t.Error("closed server should fail")
	}
}

// Package connwatch probes the external services Docent depends on (the
// model backend, the embedding backend, web search) and reports their
// reachability for the health endpoint.
//
// A failing service is retried with exponential backoff capped at the
// poll interval. A healthy one is polled at the poll interval. Every
// up/down transition is logged and published on the event bus.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nugget/docent/internal/events"
	"github.com/nugget/docent/internal/httpkit"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config controls probe timing for every watcher of a Manager.
type Config struct {
	// InitialDelay is the first retry delay for a service that has not
	// yet answered. Default: 2s.
	InitialDelay time.Duration

	// PollInterval is the steady-state check interval and the ceiling
	// for backoff growth. Default: 60s.
	PollInterval time.Duration

	// ProbeTimeout bounds each probe. Default: 10s.
	ProbeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.InitialDelay > c.PollInterval {
		c.InitialDelay = c.PollInterval
	}
}

// Status is the health of one watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	name   string
	probe  ProbeFunc
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Status returns the current health of the service.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.Status().Ready
}

// Check probes once, updates the status, and reports transitions.
func (w *Watcher) Check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()

	w.mu.Lock()
	wasReady := w.status.Ready
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		w.logger.Info("service reachable", "service", w.name)
		w.bus.Emit(events.SourceHealth, events.KindServiceReady, map[string]any{"service": w.name})
	case err != nil && wasReady:
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
		w.bus.Emit(events.SourceHealth, events.KindServiceDown, map[string]any{
			"service": w.name,
			"error":   err.Error(),
		})
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "error", err)
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	backoff := w.cfg.InitialDelay
	for {
		wait := w.cfg.PollInterval
		if w.Check(ctx) == nil {
			backoff = w.cfg.InitialDelay
		} else {
			wait = backoff
			backoff = min(backoff*2, w.cfg.PollInterval)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Manager owns the watchers for one process.
type Manager struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
	cancels  []context.CancelFunc
}

// NewManager creates a manager. bus may be nil.
func NewManager(cfg Config, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*Watcher),
	}
}

// Watch registers a service and starts probing it in the background
// until ctx is cancelled or Stop is called. Watching a name twice
// returns the existing watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		return w
	}

	w := &Watcher{
		name:   name,
		probe:  probe,
		cfg:    m.cfg,
		bus:    m.bus,
		logger: m.logger,
		done:   make(chan struct{}),
		status: Status{Name: name},
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchers[name] = w
	m.cancels = append(m.cancels, cancel)

	go w.run(watchCtx)
	return w
}

// Status returns every watched service's health, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is ready. A nil manager
// or one with no watchers is healthy.
func (m *Manager) Healthy() bool {
	if m == nil {
		return true
	}
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop cancels all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, w := range watchers {
		<-w.done
	}
}

// HTTPProbe returns a probe that GETs url and treats any response below
// 500 as reachable.
func HTTPProbe(url string) ProbeFunc {
	client := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpkit.DrainAndClose(resp.Body, 64*1024)
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// Package cleanup runs the periodic document sweep: expired temporary
// uploads are deleted and, when an embedder is configured, documents
// stored without an embedding are backfilled.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/embeddings"
	"github.com/nugget/docent/internal/events"
)

// Store is the part of the document store the sweeper needs.
type Store interface {
	SweepExpired(now time.Time) (int64, error)
	MissingEmbeddings(limit int) ([]documents.Document, error)
	SetEmbedding(id string, vec []float32) error
	Now() time.Time
}

// Config controls the sweeper.
type Config struct {
	// Interval between sweeps. Default: 1 hour.
	Interval time.Duration

	// BackfillBatch is the max number of unembedded documents embedded
	// per tick. Default: 50.
	BackfillBatch int

	// Timeout bounds one tick's backfill. Default: 2 minutes.
	Timeout time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		BackfillBatch: 50,
		Timeout:       2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BackfillBatch <= 0 {
		c.BackfillBatch = d.BackfillBatch
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// Result summarizes one tick.
type Result struct {
	Deleted    int64 `json:"deleted"`
	Backfilled int   `json:"backfilled"`
}

// Sweeper owns the cleanup schedule. It is started and stopped by the
// process lifecycle, independent of request handling.
type Sweeper struct {
	store    Store
	embedder embeddings.Embedder
	bus      *events.Bus
	logger   *slog.Logger
	config   Config

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. embedder and bus may be nil.
func New(store Store, embedder embeddings.Embedder, bus *events.Bus, logger *slog.Logger, cfg Config) *Sweeper {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		embedder: embedder,
		bus:      bus,
		logger:   logger.With("component", "cleanup"),
		config:   cfg,
	}
}

// Start runs an immediate sweep, then sweeps at the configured interval
// until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
}

// Stop cancels the schedule and waits for the in-flight tick to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("cleanup scheduler started", "interval", s.config.Interval)
	s.tick(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one pass, logging failures so the schedule continues.
func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("cleanup tick panicked", "panic", p)
		}
	}()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("cleanup tick failed", "error", err)
	}
}

// RunOnce sweeps expired temporary documents and backfills missing
// embeddings. A backfill failure is logged and does not undo the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	deleted, err := s.store.SweepExpired(s.store.Now())
	if err != nil {
		return res, fmt.Errorf("sweep expired: %w", err)
	}
	res.Deleted = deleted
	if deleted > 0 {
		s.logger.Info("swept expired temporary documents", "deleted", deleted)
	}

	if s.embedder != nil {
		n, err := s.backfill(ctx)
		res.Backfilled = n
		if err != nil {
			s.logger.Warn("embedding backfill incomplete", "embedded", n, "error", err)
		} else if n > 0 {
			s.logger.Info("backfilled embeddings", "embedded", n)
		}
	}

	s.bus.Emit(events.SourceCleanup, events.KindSweepComplete, map[string]any{
		"deleted":    res.Deleted,
		"backfilled": res.Backfilled,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

func (s *Sweeper) backfill(ctx context.Context) (int, error) {
	docs, err := s.store.MissingEmbeddings(s.config.BackfillBatch)
	if err != nil {
		return 0, fmt.Errorf("list missing embeddings: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := s.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	n := 0
	for i, d := range docs {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			continue
		}
		if err := s.store.SetEmbedding(d.ID, vecs[i]); err != nil {
			// Swept between listing and update.
			s.logger.Debug("set embedding skipped", "id", d.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/events"
)

// Recorder turns llm_response events into usage records.
type Recorder struct {
	store    *Store
	bus      *events.Bus
	pricing  map[string]config.PricingEntry
	provider func(model string) string
	logger   *slog.Logger

	ch   <-chan events.Event
	done chan struct{}
}

// NewRecorder creates a recorder. provider maps a model name to the
// provider that served it and may be nil.
func NewRecorder(store *Store, bus *events.Bus, pricing map[string]config.PricingEntry, provider func(string) string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = func(string) string { return "" }
	}
	return &Recorder{
		store:    store,
		bus:      bus,
		pricing:  pricing,
		provider: provider,
		logger:   logger.With("component", "usage"),
	}
}

// Start subscribes to the bus and records in the background until Stop
// is called or ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	if r.bus == nil {
		return
	}
	r.ch = r.bus.Subscribe(256)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		defer r.bus.Unsubscribe(r.ch)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-r.ch:
				if !ok {
					return
				}
				r.Observe(ctx, e)
			}
		}
	}()
}

// Stop unsubscribes, records whatever is still buffered, and waits for
// the background loop to exit.
func (r *Recorder) Stop() {
	if r.done == nil {
		return
	}
	r.bus.Unsubscribe(r.ch)
	<-r.done
}

// Observe records e if it is a model response. Other events are ignored.
func (r *Recorder) Observe(ctx context.Context, e events.Event) {
	if e.Kind != events.KindLLMResponse {
		return
	}
	model, _ := e.Data["model"].(string)
	requestID, _ := e.Data["request_id"].(string)
	sessionID, _ := e.Data["session_id"].(string)
	in := toInt(e.Data["tokens_in"])
	out := toInt(e.Data["tokens_out"])

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		Timestamp:    ts,
		RequestID:    requestID,
		SessionID:    sessionID,
		Model:        model,
		Provider:     r.provider(model),
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      ComputeCost(model, in, out, r.pricing),
	}
	if err := r.store.Record(ctx, rec); err != nil {
		r.logger.Warn("failed to record usage", "request_id", requestID, "error", err)
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

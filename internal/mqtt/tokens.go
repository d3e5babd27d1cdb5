package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/docent/internal/events"
)

// DailyUsage accumulates model token counts from llm_response events
// and resets at local midnight. It is safe for concurrent use.
type DailyUsage struct {
	mu       sync.Mutex
	input    int64
	output   int64
	calls    int64
	turns    int64
	resetDay string
	loc      *time.Location
	now      func() time.Time
}

// UsageSnapshot is a point-in-time copy of the counters.
type UsageSnapshot struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	ModelCalls   int64 `json:"model_calls"`
	Turns        int64 `json:"turns"`
}

// NewDailyUsage creates an accumulator that rolls over at midnight in
// loc. A nil loc means [time.Local].
func NewDailyUsage(loc *time.Location) *DailyUsage {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyUsage{loc: loc, now: time.Now}
	d.resetDay = d.dayKey()
	return d
}

// Observe folds one bus event into the counters. Events other than
// llm_response and request_complete are ignored.
func (d *DailyUsage) Observe(e events.Event) {
	if e.Source != events.SourceAgent {
		return
	}
	switch e.Kind {
	case events.KindLLMResponse, events.KindRequestComplete:
	default:
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()

	if e.Kind == events.KindRequestComplete {
		d.turns++
		return
	}
	d.calls++
	d.input += toInt64(e.Data["tokens_in"])
	d.output += toInt64(e.Data["tokens_out"])
}

// Snapshot returns today's totals.
func (d *DailyUsage) Snapshot() UsageSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return UsageSnapshot{
		InputTokens:  d.input,
		OutputTokens: d.output,
		ModelCalls:   d.calls,
		Turns:        d.turns,
	}
}

// maybeReset must be called with d.mu held.
func (d *DailyUsage) maybeReset() {
	today := d.dayKey()
	if today != d.resetDay {
		d.input, d.output, d.calls, d.turns = 0, 0, 0, 0
		d.resetDay = today
	}
}

func (d *DailyUsage) dayKey() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

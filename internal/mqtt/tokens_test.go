package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/nugget/docent/internal/events"
)

func llmResponse(in, out int) events.Event {
	return events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMResponse,
		Data:   map[string]any{"tokens_in": in, "tokens_out": out},
	}
}

func TestDailyUsage_Observe(t *testing.T) {
	d := NewDailyUsage(time.UTC)
	d.Observe(llmResponse(100, 200))
	d.Observe(llmResponse(50, 75))
	d.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindRequestComplete})
	d.Observe(events.Event{Source: events.SourceDocuments, Kind: events.KindDocumentIngested})

	got := d.Snapshot()
	want := UsageSnapshot{InputTokens: 150, OutputTokens: 275, ModelCalls: 2, Turns: 1}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestDailyUsage_FloatCounts(t *testing.T) {
	// Events that went through JSON carry float64 numbers.
	d := NewDailyUsage(time.UTC)
	d.Observe(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMResponse,
		Data:   map[string]any{"tokens_in": float64(12), "tokens_out": float64(3)},
	})
	if got := d.Snapshot(); got.InputTokens != 12 || got.OutputTokens != 3 {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestDailyUsage_Concurrent(t *testing.T) {
	d := NewDailyUsage(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Observe(llmResponse(10, 20))
		}()
	}
	wg.Wait()

	got := d.Snapshot()
	if got.InputTokens != 1000 || got.OutputTokens != 2000 || got.ModelCalls != 100 {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestDailyUsage_MidnightReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d := NewDailyUsage(time.UTC)
	d.now = func() time.Time { return now }
	d.resetDay = d.dayKey()

	d.Observe(llmResponse(500, 600))
	if got := d.Snapshot(); got.InputTokens != 500 {
		t.Fatalf("before midnight: %+v", got)
	}

	now = now.Add(2 * time.Minute)
	if got := d.Snapshot(); got != (UsageSnapshot{}) {
		t.Errorf("after midnight: %+v, want zero", got)
	}
}

func TestDailyUsage_NilLocation(t *testing.T) {
	d := NewDailyUsage(nil)
	if d.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/events"
)

type recorder struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (r *recorder) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, p)
	return &paho.PublishResponse{}, r.err
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Topic
	}
	return out
}

func TestBridge_Topics(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		got    func(b *Bridge) string
		want   string
	}{
		{"availability", "docent", (*Bridge).availabilityTopic, "docent/availability"},
		{"stats", "docent", (*Bridge).statsTopic, "docent/stats"},
		{"trimmed prefix", "/home/docent/", (*Bridge).availabilityTopic, "home/docent/availability"},
		{"empty prefix", "", (*Bridge).statsTopic, "docent/stats"},
		{"event", "lab", func(b *Bridge) string {
			return b.eventTopic(events.Event{Source: "documents", Kind: "document_ingested"})
		}, "lab/events/documents/document_ingested"},
		{"event wildcards", "lab", func(b *Bridge) string {
			return b.eventTopic(events.Event{Source: "a/b", Kind: "#+"})
		}, "lab/events/a_b/__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(config.MQTTConfig{TopicPrefix: tt.prefix}, "", events.New(), nil)
			if got := tt.got(b); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBridge_ClientID(t *testing.T) {
	b := New(config.MQTTConfig{ClientID: "docent"}, "019234ab-cdef-7000-8000-0123456789ab", nil, nil)
	if got := b.clientID(); got != "docent-456789ab" {
		t.Errorf("clientID() = %q", got)
	}
	b = New(config.MQTTConfig{}, "", nil, nil)
	if got := b.clientID(); got != "docent" {
		t.Errorf("clientID() = %q, want docent", got)
	}
}

func TestBridge_ForwardPublishesEvents(t *testing.T) {
	bus := events.New()
	b := New(config.MQTTConfig{TopicPrefix: "docent"}, "inst", bus, nil)
	rec := &recorder{}
	b.pub = rec
	b.statsInterval = time.Hour

	ch := bus.Subscribe(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.forward(ctx, ch)
		close(done)
	}()

	bus.Emit(events.SourceDocuments, events.KindDocumentIngested, map[string]any{"chunks": 3})
	bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{"tokens_in": 7, "tokens_out": 2})

	deadline := time.After(2 * time.Second)
	for len(rec.topics()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("published %v, want 2 messages", rec.topics())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	topics := rec.topics()
	if topics[0] != "docent/events/documents/document_ingested" {
		t.Errorf("topic[0] = %q", topics[0])
	}
	if topics[1] != "docent/events/agent/llm_response" {
		t.Errorf("topic[1] = %q", topics[1])
	}

	var got events.Event
	if err := json.Unmarshal(rec.msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Kind != events.KindDocumentIngested || got.Data["chunks"] != float64(3) {
		t.Errorf("payload = %+v", got)
	}
	if rec.msgs[0].Retain {
		t.Error("event messages should not be retained")
	}

	if u := b.Usage().Snapshot(); u.InputTokens != 7 || u.OutputTokens != 2 {
		t.Errorf("usage = %+v", u)
	}
}

func TestBridge_ForwardStopsOnClosedChannel(t *testing.T) {
	bus := events.New()
	b := New(config.MQTTConfig{}, "", bus, nil)
	b.pub = &recorder{err: errors.New("broker down")}

	ch := bus.Subscribe(1)
	bus.Emit(events.SourceCleanup, events.KindSweepComplete, nil)
	bus.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		b.forward(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not return after channel close")
	}
}

func TestBridge_StatsMessage(t *testing.T) {
	b := New(config.MQTTConfig{}, "inst-1", nil, nil)
	b.usage.Observe(llmResponse(4, 5))

	rec := &recorder{}
	b.publishStats(context.Background(), rec)
	if len(rec.msgs) != 1 {
		t.Fatalf("published %d messages", len(rec.msgs))
	}
	msg := rec.msgs[0]
	if msg.Topic != "docent/stats" || !msg.Retain {
		t.Errorf("topic=%q retain=%v", msg.Topic, msg.Retain)
	}
	var got statsPayload
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.InstanceID != "inst-1" || got.Today.InputTokens != 4 || got.Version == "" {
		t.Errorf("stats = %+v", got)
	}
}

func TestBridge_StopWithoutStart(t *testing.T) {
	b := New(config.MQTTConfig{}, "", nil, nil)
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestBridge_StartBadURL(t *testing.T) {
	b := New(config.MQTTConfig{Broker: "://nope"}, "", events.New(), nil)
	if err := b.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "parse mqtt broker URL") {
		t.Errorf("Start() = %v", err)
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(id1) != 36 {
		t.Errorf("id = %q, want UUID", id1)
	}

	id2, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %q vs %q", id1, id2)
	}
}

func TestLoadOrCreateInstanceID_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	const fixed = "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("  "+fixed+" \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if id != fixed {
		t.Errorf("id = %q, want %s", id, fixed)
	}
}

func TestLoadOrCreateInstanceID_ReplacesCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance_id")
	if err := os.WriteFile(path, []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if id == "not-a-uuid" || len(id) != 36 {
		t.Errorf("id = %q, want fresh UUID", id)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != id {
		t.Errorf("file = %q, want regenerated id persisted", data)
	}
}

func TestLoadOrCreateInstanceID_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := LoadOrCreateInstanceID(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "instance_id")); err != nil {
		t.Errorf("instance_id not written: %v", err)
	}
}

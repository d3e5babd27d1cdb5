// Package events is an in-process publish/subscribe bus for document
// lifecycle and agent activity. Subscribers include the MQTT bridge and
// tests. Publishing on a nil *Bus is a no-op, so components hold an
// optional bus without guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent     = "agent"
	SourceDocuments = "documents"
	SourceCleanup   = "cleanup"
	SourceSafety    = "safety"
	SourceHealth    = "health"
)

// Agent kinds.
const (
	// KindRequestStart data: request_id, session_id, attachment.
	KindRequestStart = "request_start"
	// KindLLMCall data: request_id, iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse data: request_id, session_id, iter, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall data: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone data: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete data: request_id, model, iterations, finish_reason, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestFailed data: request_id, error.
	KindRequestFailed = "request_failed"
)

// Document kinds.
const (
	// KindDocumentIngested data: document_group_id, source, chunks, temporary.
	KindDocumentIngested = "document_ingested"
	// KindDocumentsPromoted data: document_group_id, promoted, reason.
	KindDocumentsPromoted = "documents_promoted"
	// KindSweepComplete data: deleted, elapsed_ms.
	KindSweepComplete = "sweep_complete"
	// KindScanInconclusive data: target, reason.
	KindScanInconclusive = "scan_inconclusive"
	// KindScanRejected data: target, positives, total.
	KindScanRejected = "scan_rejected"
)

// Health kinds.
const (
	// KindServiceReady data: service.
	KindServiceReady = "service_ready"
	// KindServiceDown data: service, error.
	KindServiceDown = "service_down"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe take the receive-only channel the
	// caller holds.
	recvToSend map[<-chan Event]chan Event
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends e to every subscriber whose buffer has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events with the given
// buffer. Call Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

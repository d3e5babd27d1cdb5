package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nugget/docent/internal/llm"
)

func TestSessionLocks_Serializes(t *testing.T) {
	var locks sessionLocks
	unlock, err := locks.lock(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := locks.lock(context.Background(), "s1")
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired a held session")
	case <-time.After(20 * time.Millisecond):
	}

	other, err := locks.lock(context.Background(), "s2")
	if err != nil {
		t.Fatalf("other session blocked: %v", err)
	}
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the session")
	}
}

func TestSessionLocks_ContextCancelled(t *testing.T) {
	var locks sessionLocks
	unlock, err := locks.lock(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.lock(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("lock() error = %v, want deadline exceeded", err)
	}
	if n := locks.len(); n != 1 {
		t.Errorf("entries = %d, want 1 while held", n)
	}
}

func TestSessionLocks_ReleasedEntriesRemoved(t *testing.T) {
	var locks sessionLocks
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := locks.lock(context.Background(), "shared")
			if err != nil {
				t.Error(err)
				return
			}
			u()
		}()
	}
	wg.Wait()
	if n := locks.len(); n != 0 {
		t.Errorf("entries = %d after all turns finished, want 0", n)
	}
}

func TestRun_SessionLocksNotRetained(t *testing.T) {
	mock := &mockLLM{fn: func(int, []llm.Message) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}}
	loop, _ := buildTestLoop(t, mock)

	for range 200 {
		if _, err := loop.Run(context.Background(), &Request{Message: "hi"}); err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	}
	if _, err := loop.Run(context.Background(), &Request{SessionID: "named", Message: "hi"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n := loop.sessions.len(); n != 0 {
		t.Errorf("session locks retained = %d, want 0", n)
	}
}

func TestRun_CancelledWhileSessionBusy(t *testing.T) {
	mock := &mockLLM{fn: func(int, []llm.Message) (*llm.ChatResponse, error) {
		return textResponse("ok"), nil
	}}
	loop, mem := buildTestLoop(t, mock)

	unlock, err := loop.sessions.lock(context.Background(), "busy")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loop.Run(ctx, &Request{SessionID: "busy", Message: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	msgs, err := mem.All("busy")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("stored %d messages for an abandoned turn", len(msgs))
	}
}

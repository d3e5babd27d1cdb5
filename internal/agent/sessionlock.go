package agent

import (
	"context"
	"sync"
)

// sessionLocks serializes turns per session. Entries are reference
// counted and removed once no turn holds or waits on them, so the map
// only ever holds sessions with a turn in flight.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

// lock blocks until the session is free or ctx is done. The returned
// func releases the session and must be called exactly once.
func (s *sessionLocks) lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[string]*sessionLock)
	}
	l := s.m[id]
	if l == nil {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		s.m[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			s.release(id, l)
		}, nil
	case <-ctx.Done():
		s.release(id, l)
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) release(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.m, id)
	}
}

func (s *sessionLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

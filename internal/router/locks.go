package router

import (
	"sync"

	"github.com/enflame-media/syncrelay/internal/api"
)

// streamLocks serializes writers per stream. Entries are dropped once no
// goroutine holds or waits on them.
type streamLocks struct {
	mu    sync.Mutex
	locks map[api.StreamKey]*streamLock
}

type streamLock struct {
	mu   sync.Mutex
	refs int
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[api.StreamKey]*streamLock)}
}

// lock blocks until the caller owns stream and returns the matching unlock.
func (s *streamLocks) lock(stream api.StreamKey) func() {
	s.mu.Lock()
	l, ok := s.locks[stream]
	if !ok {
		l = &streamLock{}
		s.locks[stream] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, stream)
		}
		s.mu.Unlock()
	}
}

func (s *streamLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps markers in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{markers: make(map[string]time.Time), now: now}
}

func (s *MemoryStore) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.markers[key]; ok && now.Before(until) {
		return false, nil
	}
	if len(s.markers) >= sweepThreshold {
		s.sweep(now)
	}
	s.markers[key] = now.Add(window)
	return true, nil
}

const sweepThreshold = 4096

// sweep must be called with mu held.
func (s *MemoryStore) sweep(now time.Time) {
	for key, until := range s.markers {
		if !now.Before(until) {
			delete(s.markers, key)
		}
	}
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, key)
	return nil
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance deployments and
// tests. Budgets are not shared across replicas.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count int64
	reset time.Time
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

// Incr implements Store. Expired windows are replaced lazily on access.
func (s *MemoryStore) Incr(ctx context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(d)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.reset.Sub(now), nil
}

var _ Store = (*MemoryStore)(nil)

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is an in-memory Store implementation. Suitable for a single
// process; use RedisStore when running more than one instance.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]window
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory rate limit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]window),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Incr records one hit for key within a fixed window of the given duration.
func (s *MemoryStore) Incr(ctx context.Context, key string, windowDur time.Duration) (int64, time.Time, error) {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.m[key]
	if !ok || !w.resetAt.After(now) {
		w = window{resetAt: now.Add(windowDur)}
	}
	w.count++
	s.m[key] = w
	return w.count, w.resetAt, nil
}

// Sweep removes windows that have already reset. Call it periodically to keep
// the map from growing with dead keys.
func (s *MemoryStore) Sweep() {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.m {
		if !w.resetAt.After(now) {
			delete(s.m, k)
		}
	}
}

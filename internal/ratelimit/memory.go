package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process [Store]. Keys expire one window after their
// last admission, so idle callers do not accumulate. It is not shared across
// processes.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store that sweeps expired keys every cleanup interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryStore{cache: cache.New(DefaultWindow, cleanup)}
}

// Count implements [Store].
func (s *MemoryStore) Count(_ context.Context, key string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.cache.GetWithExpiration(key)
	if !ok {
		return 0, nil
	}
	stamps := v.([]time.Time)
	kept := make([]time.Time, 0, len(stamps))
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		s.cache.Delete(key)
		return 0, nil
	}
	if len(kept) != len(stamps) {
		ttl := cache.NoExpiration
		if !exp.IsZero() {
			ttl = max(time.Until(exp), time.Millisecond)
		}
		s.cache.Set(key, kept, ttl)
	}
	return len(kept), nil
}

// Record implements [Store].
func (s *MemoryStore) Record(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stamps []time.Time
	if v, ok := s.cache.Get(key); ok {
		stamps = v.([]time.Time)
	}
	s.cache.Set(key, append(stamps, at), ttl)
	return nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

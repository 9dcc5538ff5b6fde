package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store counts hits per key inside fixed windows. Implementations must be
// safe for concurrent use.
type Store interface {
	// Increment records one hit for key and returns the hit count of the
	// current window and the moment that window ends.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

type memoryWindow struct {
	count int64
	start time.Time
}

// MemoryStore is a process-local Store. Horizontally scaled deployments
// enforce limits per instance when using it.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store's time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore builds an empty store. A janitor evicts windows older than
// sweepAfter every sweepAfter; pass 0 to disable it.
func NewMemoryStore(sweepAfter time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if sweepAfter > 0 {
		go s.janitor(sweepAfter)
	}
	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.start.Add(window)) {
		w = &memoryWindow{start: now}
		s.windows[strings.Clone(key)] = w
	}
	w.count++
	return w.count, w.start.Add(window), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep drops windows that started at least maxAge ago.
func (s *MemoryStore) Sweep(maxAge time.Duration) {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if !w.start.After(cutoff) {
			delete(s.windows, key)
		}
	}
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(every)
		case <-s.stop:
			return
		}
	}
}

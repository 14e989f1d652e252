package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WindowStore holds the send timestamps behind a sliding-window limiter.
// Implementations keep timestamps ordered and must tolerate duplicates.
type WindowStore interface {
	// Record appends a send timestamp.
	Record(ctx context.Context, t time.Time) error
	// Since returns every timestamp strictly after t, oldest first.
	Since(ctx context.Context, t time.Time) ([]time.Time, error)
	// Prune drops every timestamp at or before t.
	Prune(ctx context.Context, t time.Time) error
	// Clear removes all timestamps.
	Clear(ctx context.Context) error
}

// MemoryStore is the in-process WindowStore.
type MemoryStore struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep the sequence non-decreasing even if the caller's clock steps back.
	n := len(s.timestamps)
	if n > 0 && t.Before(s.timestamps[n-1]) {
		i := sort.Search(n, func(i int) bool { return s.timestamps[i].After(t) })
		s.timestamps = append(s.timestamps, time.Time{})
		copy(s.timestamps[i+1:], s.timestamps[i:])
		s.timestamps[i] = t
		return nil
	}
	s.timestamps = append(s.timestamps, t)
	return nil
}

func (s *MemoryStore) Since(_ context.Context, t time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.timestamps), func(i int) bool { return s.timestamps[i].After(t) })
	out := make([]time.Time, len(s.timestamps)-i)
	copy(out, s.timestamps[i:])
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.timestamps), func(i int) bool { return s.timestamps[i].After(t) })
	if i > 0 {
		s.timestamps = append(s.timestamps[:0], s.timestamps[i:]...)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.timestamps = nil
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored timestamps.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timestamps)
}

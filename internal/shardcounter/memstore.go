package shardcounter

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used by tests in this package and by
// internal/shardstrategy, internal/actor, internal/reaper tests.
type MemStore struct {
	mu     sync.Mutex
	counts map[Key]int64
}

func NewMemStore() *MemStore {
	return &MemStore{counts: make(map[Key]int64)}
}

func (m *MemStore) Add(_ context.Context, key Key, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
	return nil
}

func (m *MemStore) Count(_ context.Context, key Key) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}

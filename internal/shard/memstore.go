package shard

import (
	"context"
	"sort"
	"sync"
)

type familyKey struct {
	queue, region string
	typ           Type
}

// MemStore is an in-memory Store, used by tests across packages that
// depend on shard.Store (shardstrategy, actor, qakka, reaper) so they can
// exercise real shard-selection logic without a Cassandra cluster.
type MemStore struct {
	mu    sync.Mutex
	byKey map[familyKey][]Shard
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byKey: make(map[familyKey][]Shard)}
}

func (m *MemStore) List(_ context.Context, queue, region string, typ Type) ([]Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.byKey[familyKey{queue, region, typ}]
	out := make([]Shard, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return ShardBefore(out[i], out[j]) })
	return out, nil
}

func (m *MemStore) Create(_ context.Context, s Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := familyKey{s.Queue, s.Region, s.Type}
	for _, existing := range m.byKey[key] {
		if existing.PointerUUID == s.PointerUUID {
			return nil
		}
	}
	m.byKey[key] = append(m.byKey[key], s)
	return nil
}

func (m *MemStore) Delete(_ context.Context, queue, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, typ := range []Type{Default, Inflight} {
		delete(m.byKey, familyKey{queue, region, typ})
	}
	return nil
}

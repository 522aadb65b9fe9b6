package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
	"github.com/usergrid/qakka/internal/shardstrategy"
)

type pointerKey struct {
	queue, region string
	typ           shard.Type
	shardID       int64
}

// MemStore is an in-memory Store used by internal/actor, internal/qakka,
// and internal/reaper tests so queue-lifecycle logic can be exercised
// without a Cassandra cluster.
type MemStore struct {
	mu       sync.Mutex
	pointers map[pointerKey]map[uuid.UUID]Pointer
	bodies   map[uuid.UUID]Body
	strategy *shardstrategy.Strategy
	counters *shardcounter.Accumulator
}

// NewMemStore builds a MemStore that resolves shards through strategy and
// reports writes/deletes to counters, just like CassandraCRUD does.
func NewMemStore(strategy *shardstrategy.Strategy, counters *shardcounter.Accumulator) *MemStore {
	return &MemStore{
		pointers: make(map[pointerKey]map[uuid.UUID]Pointer),
		bodies:   make(map[uuid.UUID]Body),
		strategy: strategy,
		counters: counters,
	}
}

func (m *MemStore) resolveShardID(ctx context.Context, queue, region string, typ shard.Type, shardID *int64, queueMessageID uuid.UUID) (int64, error) {
	if shardID != nil {
		return *shardID, nil
	}
	sh, err := m.strategy.Select(ctx, queue, region, typ, queueMessageID)
	if err != nil {
		return 0, err
	}
	return sh.ShardID, nil
}

func (m *MemStore) WriteMessage(ctx context.Context, queue, region string, typ shard.Type, ptr Pointer) (Pointer, error) {
	if ptr.ShardID == 0 {
		sh, err := m.strategy.Select(ctx, queue, region, typ, ptr.QueueMessageID)
		if err != nil {
			return Pointer{}, err
		}
		ptr.ShardID = sh.ShardID
	}

	m.mu.Lock()
	key := pointerKey{queue, region, typ, ptr.ShardID}
	if m.pointers[key] == nil {
		m.pointers[key] = make(map[uuid.UUID]Pointer)
	}
	m.pointers[key][ptr.QueueMessageID] = ptr
	m.mu.Unlock()

	m.counters.Incr(shardcounter.Key{Queue: queue, Region: region, Type: int(typ), ShardID: ptr.ShardID})
	return ptr, nil
}

func (m *MemStore) LoadMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) (*Pointer, error) {
	id, err := m.resolveShardID(ctx, queue, region, typ, shardID, queueMessageID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.pointers[pointerKey{queue, region, typ, id}]
	ptr, ok := rows[queueMessageID]
	if !ok {
		return nil, nil
	}
	cp := ptr
	return &cp, nil
}

func (m *MemStore) DeleteMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) error {
	id, err := m.resolveShardID(ctx, queue, region, typ, shardID, queueMessageID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	key := pointerKey{queue, region, typ, id}
	if rows, ok := m.pointers[key]; ok {
		delete(rows, queueMessageID)
	}
	m.mu.Unlock()

	m.counters.Decr(shardcounter.Key{Queue: queue, Region: region, Type: int(typ), ShardID: id})
	return nil
}

func (m *MemStore) ScanShard(ctx context.Context, queue, region string, typ shard.Type, shardID int64, cursor uuid.UUID, limit int) ([]Pointer, error) {
	m.mu.Lock()
	rows := m.pointers[pointerKey{queue, region, typ, shardID}]
	all := make([]Pointer, 0, len(rows))
	for _, p := range rows {
		all = append(all, p)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return shard.Before(all[i].QueueMessageID, all[j].QueueMessageID) })

	var out []Pointer
	for _, p := range all {
		if p.QueueMessageID == cursor || !shard.Before(cursor, p.QueueMessageID) {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) WriteMessageData(ctx context.Context, body Body) error {
	if body.CreatedAt == 0 {
		body.CreatedAt = time.Now().UnixMilli()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[body.MessageID] = body
	return nil
}

func (m *MemStore) LoadMessageData(ctx context.Context, messageID uuid.UUID) (*Body, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bodies[messageID]
	if !ok {
		return nil, nil
	}
	cp := b
	return &cp, nil
}

func (m *MemStore) DeleteMessageData(ctx context.Context, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bodies, messageID)
	return nil
}

func (m *MemStore) GCOrphanedBodies(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int
	for id, b := range m.bodies {
		if b.CreatedAt < cutoff {
			delete(m.bodies, id)
			deleted++
		}
	}
	return deleted, nil
}

// Package shardcounter maintains the per-shard message-count hint used by
// internal/shardstrategy to decide when a shard has grown large enough to
// roll over to a new one. Counts are sizing signals, not correctness
// state: spec.md is explicit that losing an accumulated delta on crash is
// acceptable, so the accumulator trades durability for write-amplification
// avoidance (one CQL statement per flush interval, not per pointer write).
package shardcounter

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// Schema is the CQL for the shard_counters table. Cassandra counter
// columns are used directly since the column's only operations are
// "add a signed delta" and "read the total" - exactly what this
// component needs, and it avoids a read-modify-write race on flush.
const Schema = `
CREATE TABLE IF NOT EXISTS shard_counters (
	queue_name text,
	region text,
	type int,
	shard_id bigint,
	count counter,
	PRIMARY KEY ((queue_name, region, type, shard_id))
)`

// Key identifies one shard's counter.
type Key struct {
	Queue  string
	Region string
	Type   int
	ShardID int64
}

// Store persists counter deltas and reads the last-flushed total.
type Store interface {
	// Add commits a signed delta to the persistent counter. Called only
	// by the Accumulator's flush loop, never per-write.
	Add(ctx context.Context, key Key, delta int64) error
	// Count returns the last-flushed value for key, or 0 if never
	// written.
	Count(ctx context.Context, key Key) (int64, error)
}

// CassandraStore is the gocql-backed Store.
type CassandraStore struct {
	session *gocql.Session
}

func NewCassandraStore(session *gocql.Session) *CassandraStore {
	return &CassandraStore{session: session}
}

func (s *CassandraStore) Add(ctx context.Context, key Key, delta int64) error {
	if delta == 0 {
		return nil
	}
	err := s.session.Query(
		`UPDATE shard_counters SET count = count + ? WHERE queue_name = ? AND region = ? AND type = ? AND shard_id = ?`,
		delta, key.Queue, key.Region, key.Type, key.ShardID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("shardcounter: add %+v: %w", key, err)
	}
	return nil
}

func (s *CassandraStore) Count(ctx context.Context, key Key) (int64, error) {
	var count int64
	err := s.session.Query(
		`SELECT count FROM shard_counters WHERE queue_name = ? AND region = ? AND type = ? AND shard_id = ?`,
		key.Queue, key.Region, key.Type, key.ShardID,
	).WithContext(ctx).Scan(&count)
	if err == gocql.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("shardcounter: count %+v: %w", key, err)
	}
	return count, nil
}

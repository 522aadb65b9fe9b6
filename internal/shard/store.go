package shard

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// Schema is the CQL for the shards table, embedded so the migration
// runner in cmd/qakkad can apply it without a separate migration tool -
// historical schema migration is a declared Non-goal, so this is
// intentionally just CREATE TABLE IF NOT EXISTS.
const Schema = `
CREATE TABLE IF NOT EXISTS shards (
	queue_name text,
	region text,
	type int,
	pointer_uuid timeuuid,
	shard_id bigint,
	PRIMARY KEY ((queue_name, region, type), pointer_uuid)
) WITH CLUSTERING ORDER BY (pointer_uuid ASC)`

// Store lists and creates shards for a (queue, region, type) family.
// Shards are append-only: Create never mutates an existing row, so two
// concurrent allocations racing on the same family simply produce two
// rows - both valid per spec, with readers scanning both.
type Store interface {
	// List returns every shard for (queue, region, typ) ordered by
	// PointerUUID ascending - i.e. oldest shard first.
	List(ctx context.Context, queue, region string, typ Type) ([]Shard, error)
	// Create persists a new shard. Idempotent: inserting the same
	// PointerUUID twice is a no-op overwrite of identical data.
	Create(ctx context.Context, s Shard) error
	// Delete removes every shard row for (queue, region) across both
	// types, used by queue teardown.
	Delete(ctx context.Context, queue, region string) error
}

// CassandraStore is the gocql-backed Store.
type CassandraStore struct {
	session *gocql.Session
}

// NewCassandraStore wraps an established session. The session's keyspace
// must already contain the shards table (see Schema).
func NewCassandraStore(session *gocql.Session) *CassandraStore {
	return &CassandraStore{session: session}
}

func (s *CassandraStore) List(ctx context.Context, queue, region string, typ Type) ([]Shard, error) {
	iter := s.session.Query(
		`SELECT pointer_uuid, shard_id FROM shards WHERE queue_name = ? AND region = ? AND type = ?`,
		queue, region, int(typ),
	).WithContext(ctx).Iter()

	var shards []Shard
	var pointer gocql.UUID
	var shardID int64
	for iter.Scan(&pointer, &shardID) {
		shards = append(shards, Shard{
			Queue:       queue,
			Region:      region,
			Type:        typ,
			ShardID:     shardID,
			PointerUUID: uuid.UUID(pointer),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("shard: list %s/%s/%s: %w", queue, region, typ, err)
	}
	return shards, nil
}

func (s *CassandraStore) Create(ctx context.Context, sh Shard) error {
	err := s.session.Query(
		`INSERT INTO shards (queue_name, region, type, pointer_uuid, shard_id) VALUES (?, ?, ?, ?, ?)`,
		sh.Queue, sh.Region, int(sh.Type), gocql.UUID(sh.PointerUUID), sh.ShardID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("shard: create %s/%s/%s: %w", sh.Queue, sh.Region, sh.Type, err)
	}
	return nil
}

func (s *CassandraStore) Delete(ctx context.Context, queue, region string) error {
	for _, typ := range []Type{Default, Inflight} {
		err := s.session.Query(
			`DELETE FROM shards WHERE queue_name = ? AND region = ? AND type = ?`,
			queue, region, int(typ),
		).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("shard: delete %s/%s/%s: %w", queue, region, typ, err)
		}
	}
	return nil
}

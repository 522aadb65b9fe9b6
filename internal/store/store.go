// Package store implements CRUD of queue-message pointer rows and
// message-body rows against the wide-column schema (spec.md §4.4, §6).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
	"github.com/usergrid/qakka/internal/shardstrategy"
)

// ErrNotFound is returned by nothing in this package directly - Load
// operations return (nil, nil) for a missing row per spec.md §4.4 ("missing
// rows return null rather than failing") - but is exposed for callers
// that want a uniform sentinel when wrapping Store behind an interface
// that must distinguish "missing" from "zero value".
var ErrNotFound = errors.New("store: not found")

// Store is the C4 message-serialization contract.
type Store interface {
	// WriteMessage resolves a shard via shardstrategy if ptr.ShardID is
	// zero, inserts into the available or inflight table per typ, and
	// increments the shard counter.
	WriteMessage(ctx context.Context, queue, region string, typ shard.Type, ptr Pointer) (Pointer, error)
	// LoadMessage point-queries by full primary key, resolving shardID
	// via shardstrategy when shardID is nil. Returns (nil, nil) if the
	// row does not exist.
	LoadMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) (*Pointer, error)
	// DeleteMessage resolves shardID as LoadMessage does, deletes the
	// row, and decrements the shard counter.
	DeleteMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) error
	// ScanShard returns up to limit pointers from one shard in
	// queueMessageID-ascending order, starting strictly after cursor
	// (the zero UUID scans from the beginning). Used by the reaper to
	// page through inflight shards without loading them wholesale.
	ScanShard(ctx context.Context, queue, region string, typ shard.Type, shardID int64, cursor uuid.UUID, limit int) ([]Pointer, error)

	WriteMessageData(ctx context.Context, body Body) error
	LoadMessageData(ctx context.Context, messageID uuid.UUID) (*Body, error)
	DeleteMessageData(ctx context.Context, messageID uuid.UUID) error

	// GCOrphanedBodies deletes every message_data row older than maxAge.
	// It selects rows by age alone: whether a pointer in any shard still
	// references a body is not checked. See SPEC_FULL.md §9 (body GC).
	GCOrphanedBodies(ctx context.Context, maxAge time.Duration) (deleted int, err error)
}

// CassandraCRUD implements Store against gocql, delegating shard
// selection to shardstrategy and counter bookkeeping to shardcounter.
type CassandraCRUD struct {
	session  *gocql.Session
	shards   shard.Store
	strategy *shardstrategy.Strategy
	counters *shardcounter.Accumulator
}

// NewCassandraCRUD wires a Store against an established session.
func NewCassandraCRUD(session *gocql.Session, shards shard.Store, strategy *shardstrategy.Strategy, counters *shardcounter.Accumulator) *CassandraCRUD {
	return &CassandraCRUD{session: session, shards: shards, strategy: strategy, counters: counters}
}

func (c *CassandraCRUD) resolveShardID(ctx context.Context, queue, region string, typ shard.Type, shardID *int64, queueMessageID uuid.UUID) (int64, error) {
	if shardID != nil {
		return *shardID, nil
	}
	sh, err := c.strategy.Select(ctx, queue, region, typ, queueMessageID)
	if err != nil {
		return 0, fmt.Errorf("store: resolve shard: %w", err)
	}
	return sh.ShardID, nil
}

func tableFor(typ shard.Type) string {
	if typ == shard.Inflight {
		return "messages_inflight"
	}
	return "messages_available"
}

func (c *CassandraCRUD) WriteMessage(ctx context.Context, queue, region string, typ shard.Type, ptr Pointer) (Pointer, error) {
	if ptr.ShardID == 0 {
		sh, err := c.strategy.Select(ctx, queue, region, typ, ptr.QueueMessageID)
		if err != nil {
			return Pointer{}, fmt.Errorf("store: write message: %w", err)
		}
		ptr.ShardID = sh.ShardID
	}

	table := tableFor(typ)
	err := c.session.Query(
		fmt.Sprintf(`INSERT INTO %s (queue_name, region, shard_id, queue_message_id, message_id, queued_at, inflight_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
		queue, region, ptr.ShardID, ptr.QueueMessageID, ptr.MessageID, ptr.QueuedAt, ptr.InflightAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return Pointer{}, fmt.Errorf("store: write message %s/%s: %w", queue, region, err)
	}

	c.counters.Incr(shardcounter.Key{Queue: queue, Region: region, Type: int(typ), ShardID: ptr.ShardID})
	return ptr, nil
}

func (c *CassandraCRUD) LoadMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) (*Pointer, error) {
	id, err := c.resolveShardID(ctx, queue, region, typ, shardID, queueMessageID)
	if err != nil {
		return nil, err
	}

	table := tableFor(typ)
	var ptr Pointer
	ptr.QueueMessageID = queueMessageID
	ptr.ShardID = id
	err = c.session.Query(
		fmt.Sprintf(`SELECT message_id, queued_at, inflight_at FROM %s WHERE queue_name = ? AND region = ? AND shard_id = ? AND queue_message_id = ?`, table),
		queue, region, id, queueMessageID,
	).WithContext(ctx).Scan(&ptr.MessageID, &ptr.QueuedAt, &ptr.InflightAt)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load message %s/%s: %w", queue, region, err)
	}
	return &ptr, nil
}

func (c *CassandraCRUD) DeleteMessage(ctx context.Context, queue, region string, shardID *int64, typ shard.Type, queueMessageID uuid.UUID) error {
	id, err := c.resolveShardID(ctx, queue, region, typ, shardID, queueMessageID)
	if err != nil {
		return err
	}

	table := tableFor(typ)
	err = c.session.Query(
		fmt.Sprintf(`DELETE FROM %s WHERE queue_name = ? AND region = ? AND shard_id = ? AND queue_message_id = ?`, table),
		queue, region, id, queueMessageID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("store: delete message %s/%s: %w", queue, region, err)
	}

	c.counters.Decr(shardcounter.Key{Queue: queue, Region: region, Type: int(typ), ShardID: id})
	return nil
}

func (c *CassandraCRUD) ScanShard(ctx context.Context, queue, region string, typ shard.Type, shardID int64, cursor uuid.UUID, limit int) ([]Pointer, error) {
	table := tableFor(typ)
	iter := c.session.Query(
		fmt.Sprintf(`SELECT queue_message_id, message_id, queued_at, inflight_at FROM %s WHERE queue_name = ? AND region = ? AND shard_id = ? AND queue_message_id > ? LIMIT ?`, table),
		queue, region, shardID, cursor, limit,
	).WithContext(ctx).Iter()

	var rows []Pointer
	var ptr Pointer
	for iter.Scan(&ptr.QueueMessageID, &ptr.MessageID, &ptr.QueuedAt, &ptr.InflightAt) {
		ptr.ShardID = shardID
		rows = append(rows, ptr)
		ptr = Pointer{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("store: scan shard %s/%s/%d: %w", queue, region, shardID, err)
	}
	return rows, nil
}

func (c *CassandraCRUD) WriteMessageData(ctx context.Context, body Body) error {
	if body.CreatedAt == 0 {
		body.CreatedAt = time.Now().UnixMilli()
	}
	err := c.session.Query(
		`INSERT INTO message_data (message_id, data, content_type, created_at) VALUES (?, ?, ?, ?)`,
		body.MessageID, body.Data, body.ContentType, body.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("store: write message data %s: %w", body.MessageID, err)
	}
	return nil
}

func (c *CassandraCRUD) LoadMessageData(ctx context.Context, messageID uuid.UUID) (*Body, error) {
	body := Body{MessageID: messageID}
	err := c.session.Query(
		`SELECT data, content_type, created_at FROM message_data WHERE message_id = ?`,
		messageID,
	).WithContext(ctx).Scan(&body.Data, &body.ContentType, &body.CreatedAt)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load message data %s: %w", messageID, err)
	}
	return &body, nil
}

func (c *CassandraCRUD) DeleteMessageData(ctx context.Context, messageID uuid.UUID) error {
	err := c.session.Query(
		`DELETE FROM message_data WHERE message_id = ?`,
		messageID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("store: delete message data %s: %w", messageID, err)
	}
	return nil
}

// GCOrphanedBodies is a best-effort age-based tombstone scan: Cassandra
// has no cheap "is this message_id still referenced by any pointer"
// query, so (per SPEC_FULL.md §9) this deletes every message_data row
// older than maxAge regardless of whether a pointer still references it.
// A body newer than maxAge is never collected even if already
// unreferenced, trading some storage for correctness - callers that
// need tighter GC should raise the pointer retention instead.
func (c *CassandraCRUD) GCOrphanedBodies(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	iter := c.session.Query(
		`SELECT message_id FROM message_data WHERE created_at < ? ALLOW FILTERING`,
		cutoff,
	).WithContext(ctx).Iter()

	var deleted int
	var id uuid.UUID
	for iter.Scan(&id) {
		if err := c.DeleteMessageData(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Close(); err != nil {
		return deleted, fmt.Errorf("store: gc scan: %w", err)
	}
	return deleted, nil
}

func isNotFound(err error) bool {
	return err == gocql.ErrNotFound
}

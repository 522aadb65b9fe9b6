package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
	"github.com/usergrid/qakka/internal/shardstrategy"
)

func newTestStore(t *testing.T) *MemStore {
	t.Helper()
	shards := shard.NewMemStore()
	counters := shardcounter.NewMemStore()
	strategy := shardstrategy.New(shards, counters, 100_000)
	acc := shardcounter.NewAccumulator(counters, zerolog.Nop(), time.Hour, 1) // threshold 1: flush immediately
	return NewMemStore(strategy, acc)
}

func TestWriteLoadDeleteMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	qmid, err := uuid.NewUUID()
	require.NoError(t, err)
	mid, err := uuid.NewUUID()
	require.NoError(t, err)

	ptr := Pointer{QueueMessageID: qmid, MessageID: mid, QueuedAt: time.Now().UnixMilli()}
	written, err := s.WriteMessage(ctx, "q1", "us-east", shard.Default, ptr)
	require.NoError(t, err)
	require.NotZero(t, written.ShardID)

	loaded, err := s.LoadMessage(ctx, "q1", "us-east", nil, shard.Default, qmid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, mid, loaded.MessageID)

	require.NoError(t, s.DeleteMessage(ctx, "q1", "us-east", nil, shard.Default, qmid))

	gone, err := s.LoadMessage(ctx, "q1", "us-east", nil, shard.Default, qmid)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestLoadMessageMissingReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	qmid, err := uuid.NewUUID()
	require.NoError(t, err)

	got, err := s.LoadMessage(ctx, "q1", "us-east", nil, shard.Default, qmid)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMessageDataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mid, err := uuid.NewUUID()
	require.NoError(t, err)

	body := Body{MessageID: mid, Data: []byte("hello"), ContentType: "text/plain"}
	require.NoError(t, s.WriteMessageData(ctx, body))

	loaded, err := s.LoadMessageData(ctx, mid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, []byte("hello"), loaded.Data)
	require.Equal(t, "text/plain", loaded.ContentType)

	require.NoError(t, s.DeleteMessageData(ctx, mid))
	gone, err := s.LoadMessageData(ctx, mid)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestScanShardOrdersAscendingAfterCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		qmid, err := uuid.NewUUID()
		require.NoError(t, err)
		ids = append(ids, qmid)
		_, err = s.WriteMessage(ctx, "q1", "us-east", shard.Default, Pointer{
			QueueMessageID: qmid,
			MessageID:      qmid,
			QueuedAt:       time.Now().UnixMilli(),
		})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	// Rows all landed on one shard since the strategy only rolls over
	// once the counter reaches maxSize; fetch via the store's own
	// resolution by loading each id to discover the shard id.
	loaded, err := s.LoadMessage(ctx, "q1", "us-east", nil, shard.Default, ids[0])
	require.NoError(t, err)
	require.NotNil(t, loaded)

	rows, err := s.ScanShard(ctx, "q1", "us-east", shard.Default, loaded.ShardID, uuid.UUID{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, ids[0], rows[0].QueueMessageID)
	require.Equal(t, ids[2], rows[2].QueueMessageID)
}

func TestGCOrphanedBodiesDeletesOldRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mid, err := uuid.NewUUID()
	require.NoError(t, err)
	require.NoError(t, s.WriteMessageData(ctx, Body{
		MessageID: mid,
		Data:      []byte("old"),
		CreatedAt: time.Now().Add(-48 * time.Hour).UnixMilli(),
	}))

	deleted, err := s.GCOrphanedBodies(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	gone, err := s.LoadMessageData(ctx, mid)
	require.NoError(t, err)
	require.Nil(t, gone)
}

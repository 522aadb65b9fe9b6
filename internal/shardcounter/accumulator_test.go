package shardcounter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorFlushesOnThreshold(t *testing.T) {
	store := NewMemStore()
	acc := NewAccumulator(store, zerolog.Nop(), time.Hour, 3)

	key := Key{Queue: "q1", Region: "us-east", Type: 0, ShardID: 42}
	acc.Incr(key)
	acc.Incr(key)
	acc.Incr(key) // hits threshold, flushes immediately

	count, err := store.Count(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestAccumulatorFlushesOnTicker(t *testing.T) {
	store := NewMemStore()
	acc := NewAccumulator(store, zerolog.Nop(), 20*time.Millisecond, 1_000_000)

	key := Key{Queue: "q1", Region: "us-east", Type: 0, ShardID: 7}
	acc.Incr(key)
	acc.Incr(key)

	ctx, cancel := context.WithCancel(context.Background())
	go acc.Run(ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	<-acc.Done()

	count, err := store.Count(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestAccumulatorDecrement(t *testing.T) {
	store := NewMemStore()
	acc := NewAccumulator(store, zerolog.Nop(), time.Hour, 2)

	key := Key{Queue: "q1", Region: "us-east", Type: 1, ShardID: 1}
	acc.Incr(key)
	acc.Decr(key)
	acc.flushAll(context.Background())

	count, err := store.Count(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

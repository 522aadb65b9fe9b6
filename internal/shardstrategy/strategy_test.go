package shardstrategy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
)

func newTestStrategy(maxSize int64) (*Strategy, *shard.MemStore, *shardcounter.MemStore) {
	shards := shard.NewMemStore()
	counters := shardcounter.NewMemStore()
	return New(shards, counters, maxSize), shards, counters
}

func TestSelectAllocatesInitialShard(t *testing.T) {
	s, shards, _ := newTestStrategy(100)
	ctx := context.Background()

	at, err := uuid.NewUUID()
	require.NoError(t, err)

	chosen, err := s.Select(ctx, "q1", "us-east", shard.Default, at)
	require.NoError(t, err)
	require.Equal(t, "q1", chosen.Queue)

	all, err := shards.List(ctx, "q1", "us-east", shard.Default)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSelectReusesShardUnderThreshold(t *testing.T) {
	s, _, _ := newTestStrategy(100)
	ctx := context.Background()

	at1, _ := uuid.NewUUID()
	first, err := s.Select(ctx, "q1", "us-east", shard.Default, at1)
	require.NoError(t, err)

	at2, _ := uuid.NewUUID()
	second, err := s.Select(ctx, "q1", "us-east", shard.Default, at2)
	require.NoError(t, err)

	require.Equal(t, first.ShardID, second.ShardID)
}

func TestSelectRollsOverWhenFull(t *testing.T) {
	s, shards, counters := newTestStrategy(2)
	ctx := context.Background()

	at1, _ := uuid.NewUUID()
	first, err := s.Select(ctx, "q1", "us-east", shard.Default, at1)
	require.NoError(t, err)

	key := shardcounter.Key{Queue: "q1", Region: "us-east", Type: int(shard.Default), ShardID: first.ShardID}
	require.NoError(t, counters.Add(ctx, key, 2))

	at2, _ := uuid.NewUUID()
	second, err := s.Select(ctx, "q1", "us-east", shard.Default, at2)
	require.NoError(t, err)

	require.NotEqual(t, first.ShardID, second.ShardID)

	all, err := shards.List(ctx, "q1", "us-east", shard.Default)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSelectHistoricalReadDoesNotRollOver(t *testing.T) {
	s, _, counters := newTestStrategy(1)
	ctx := context.Background()

	at1, _ := uuid.NewUUID()
	first, err := s.Select(ctx, "q1", "us-east", shard.Default, at1)
	require.NoError(t, err)

	key := shardcounter.Key{Queue: "q1", Region: "us-east", Type: int(shard.Default), ShardID: first.ShardID}
	require.NoError(t, counters.Add(ctx, key, 5))

	// A read for the same historical instant should land on the same
	// shard, not trigger an allocation (only a write newer than the
	// current head can do that).
	again, err := s.Select(ctx, "q1", "us-east", shard.Default, at1)
	require.NoError(t, err)
	require.Equal(t, first.ShardID, again.ShardID)
}

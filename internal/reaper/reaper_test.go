package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/usergrid/qakka/internal/actor"
	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
	"github.com/usergrid/qakka/internal/shardstrategy"
	"github.com/usergrid/qakka/internal/store"
)

func newTestReaper(t *testing.T, inflightTimeout time.Duration) (*Reaper, *actor.Router, store.Store) {
	t.Helper()
	shards := shard.NewMemStore()
	counters := shardcounter.NewMemStore()
	strategy := shardstrategy.New(shards, counters, 100_000)
	acc := shardcounter.NewAccumulator(counters, zerolog.Nop(), time.Hour, 1)
	s := store.NewMemStore(strategy, acc)
	log := audit.NewMemStore()

	helperFactory := func(queue, region string) *actor.Helper {
		return actor.NewHelper(s, shards, log, inflightTimeout, zerolog.Nop())
	}
	router := actor.NewRouter(16, 0, 0, helperFactory, zerolog.Nop())
	return New(router, s, shards, zerolog.Nop()), router, s
}

func TestSweepReturnsExpiredLeaseToAvailable(t *testing.T) {
	r, router, s := newTestReaper(t, time.Millisecond)
	ctx := context.Background()

	mid, err := uuid.NewUUID()
	require.NoError(t, err)
	require.NoError(t, router.Dispatch("q1", "us-east").Send(ctx, store.Pointer{
		QueueMessageID: mid, MessageID: mid, QueuedAt: time.Now().UnixMilli(),
	}))

	leases, err := router.Dispatch("q1", "us-east").Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	time.Sleep(5 * time.Millisecond)
	r.sweepOnce(ctx)

	again, err := router.Dispatch("q1", "us-east").Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, mid, again[0].MessageID)

	_ = s
}

func TestSweepLeavesUnexpiredLeaseInflight(t *testing.T) {
	r, router, _ := newTestReaper(t, time.Minute)
	ctx := context.Background()

	mid, err := uuid.NewUUID()
	require.NoError(t, err)
	require.NoError(t, router.Dispatch("q1", "us-east").Send(ctx, store.Pointer{
		QueueMessageID: mid, MessageID: mid, QueuedAt: time.Now().UnixMilli(),
	}))

	leases, err := router.Dispatch("q1", "us-east").Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)

	r.sweepOnce(ctx)

	again, err := router.Dispatch("q1", "us-east").Get(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestSweepIgnoresQueueRegionsWithNoActor(t *testing.T) {
	r, _, _ := newTestReaper(t, time.Minute)
	r.sweepOnce(context.Background()) // no actors registered; must not panic
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r, _, _ := newTestReaper(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}

package qakka

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

// newTestService builds a Service against in-memory fakes, with nc left
// nil: every test queue here is single-region, so fan-out never needs
// the NATS path.
func newTestService(t *testing.T, localRegion string) (*Service, *MemRegistry) {
	t.Helper()
	shards := shard.NewMemStore()
	counters := shardcounter.NewMemStore()
	strategy := shardstrategy.New(shards, counters, 100_000)
	acc := shardcounter.NewAccumulator(counters, zerolog.Nop(), time.Hour, 1)
	s := store.NewMemStore(strategy, acc)
	auditLog := audit.NewMemStore()
	registry := NewMemRegistry()

	helperFactory := func(queue, region string) *actor.Helper {
		return actor.NewHelper(s, shards, auditLog, time.Minute, zerolog.Nop())
	}
	router := actor.NewRouter(16, 0, 0, helperFactory, zerolog.Nop())

	svc := NewService(registry, s, shards, auditLog, router, nil, localRegion, zerolog.Nop())
	return svc, registry
}

func TestCreateQueueIsIdempotent(t *testing.T) {
	svc, registry := newTestService(t, "us-east")
	ctx := context.Background()

	cfg := QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}
	require.NoError(t, svc.CreateQueue(ctx, cfg))
	require.NoError(t, svc.CreateQueue(ctx, cfg))

	got, err := registry.Get(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "us-east", got.DefaultRegion)
}

func TestSendGetAckRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	ctx := context.Background()
	require.NoError(t, svc.CreateQueue(ctx, QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}))

	messageID, err := svc.SendMessage(ctx, "orders", "text/plain", []byte("payload"), 0)
	require.NoError(t, err)
	require.NotEqual(t, uuid.UUID{}, messageID)

	leases, err := svc.GetNextMessages(ctx, "orders", 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, []byte("payload"), leases[0].Body)
	require.Equal(t, "us-east", leases[0].Region)

	require.NoError(t, svc.AckMessage(ctx, "orders", leases[0].Region, leases[0].QueueMessageID))

	entries, err := svc.GetAuditLogs(ctx, messageID)
	require.NoError(t, err)
	require.Len(t, entries, 3) // SEND, GET, ACK
}

func TestSendMessageOnUnknownQueueReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	_, err := svc.SendMessage(context.Background(), "missing", "text/plain", []byte("x"), 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetNextMessagesOnUnknownQueueReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	_, err := svc.GetNextMessages(context.Background(), "missing", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAckUnknownMessageReturnsBadRequest(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	ctx := context.Background()
	require.NoError(t, svc.CreateQueue(ctx, QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}))

	random, err := uuid.NewUUID()
	require.NoError(t, err)
	err = svc.AckMessage(ctx, "orders", "us-east", random)
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestDeleteQueueRemovesMetadataAndShards(t *testing.T) {
	svc, registry := newTestService(t, "us-east")
	ctx := context.Background()
	require.NoError(t, svc.CreateQueue(ctx, QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}))
	_, err := svc.SendMessage(ctx, "orders", "text/plain", []byte("x"), 0)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteQueue(ctx, "orders"))

	got, err := registry.Get(ctx, "orders")
	require.NoError(t, err)
	require.Nil(t, got)

	remaining, err := svc.shards.List(ctx, "orders", "us-east", shard.Default)
	require.NoError(t, err)
	require.Empty(t, remaining)

	_, err = svc.SendMessage(ctx, "orders", "text/plain", []byte("x"), 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteQueueOnUnknownQueueReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	err := svc.DeleteQueue(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageWithDeliveryDelayIsNotImmediatelyAvailable(t *testing.T) {
	svc, _ := newTestService(t, "us-east")
	ctx := context.Background()
	require.NoError(t, svc.CreateQueue(ctx, QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}))

	_, err := svc.SendMessage(ctx, "orders", "text/plain", []byte("later"), 50*time.Millisecond)
	require.NoError(t, err)

	leases, err := svc.GetNextMessages(ctx, "orders", 1)
	require.NoError(t, err)
	require.Empty(t, leases)

	require.Eventually(t, func() bool {
		leases, err := svc.GetNextMessages(ctx, "orders", 1)
		return err == nil && len(leases) == 1
	}, time.Second, 10*time.Millisecond)
}

package actor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/usergrid/qakka/internal/store"
)

func TestRouterDispatchesSameActorForSamePair(t *testing.T) {
	h, _, _, _ := newTestHelper(t, time.Minute)
	router := NewRouter(10, 0, 0, func(queue, region string) *Helper { return h }, zerolog.Nop())
	defer router.Stop()

	a1 := router.Dispatch("q1", "us-east")
	a2 := router.Dispatch("q1", "us-east")
	require.Same(t, a1, a2)

	a3 := router.Dispatch("q1", "us-west")
	require.NotSame(t, a1, a3)
}

func TestRouterRegisteredListsLiveActors(t *testing.T) {
	h, _, _, _ := newTestHelper(t, time.Minute)
	router := NewRouter(10, 0, 0, func(queue, region string) *Helper { return h }, zerolog.Nop())
	defer router.Stop()

	router.Dispatch("q1", "us-east")
	router.Dispatch("q2", "us-east")

	regs := router.Registered()
	require.Len(t, regs, 2)
}

func TestRouterRoundTripThroughDispatch(t *testing.T) {
	h, _, _, _ := newTestHelper(t, time.Minute)
	router := NewRouter(10, 0, 0, func(queue, region string) *Helper { return h }, zerolog.Nop())
	defer router.Stop()
	ctx := context.Background()

	mid, err := uuid.NewUUID()
	require.NoError(t, err)
	require.NoError(t, router.Dispatch("q1", "us-east").Send(ctx, store.Pointer{
		QueueMessageID: mid, MessageID: mid, QueuedAt: time.Now().UnixMilli(),
	}))

	leases, err := router.Dispatch("q1", "us-east").Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leases, 1)
}

func TestRouterRemoveStopsActor(t *testing.T) {
	h, _, _, _ := newTestHelper(t, time.Minute)
	router := NewRouter(10, 0, 0, func(queue, region string) *Helper { return h }, zerolog.Nop())
	defer router.Stop()

	router.Dispatch("q1", "us-east")
	router.Remove("q1", "us-east")
	require.Empty(t, router.Registered())
}

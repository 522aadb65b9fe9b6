package shard

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mustTimeUUID(t *testing.T, at time.Time) uuid.UUID {
	t.Helper()
	u, err := uuid.NewUUID()
	require.NoError(t, err)
	return u
}

func TestDeriveShardIDDeterministic(t *testing.T) {
	u := mustTimeUUID(t, time.Now())
	require.Equal(t, DeriveShardID(u), DeriveShardID(u))
}

func TestDeriveShardIDDiffers(t *testing.T) {
	a := mustTimeUUID(t, time.Now())
	b := mustTimeUUID(t, time.Now())
	require.NotEqual(t, a, b)
	require.NotEqual(t, DeriveShardID(a), DeriveShardID(b))
}

func TestBeforeOrdersChronologically(t *testing.T) {
	a, err := uuid.NewUUID()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	b, err := uuid.NewUUID()
	require.NoError(t, err)

	require.True(t, Before(a, b))
	require.False(t, Before(b, a))
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "DEFAULT", Default.String())
	require.Equal(t, "INFLIGHT", Inflight.String())
}

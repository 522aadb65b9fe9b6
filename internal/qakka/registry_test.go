package qakka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemRegistryCreateGetDelete(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	cfg := QueueConfig{
		Name:            "orders",
		DefaultRegion:   "us-east",
		ReplicaRegions:  []string{"us-west"},
		InflightTimeout: 30 * time.Second,
		DeliveryDelay:   0,
	}
	require.NoError(t, r.Create(ctx, cfg))

	got, err := r.Get(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"us-east", "us-west"}, got.Regions())

	require.NoError(t, r.Delete(ctx, "orders"))
	got, err = r.Get(ctx, "orders")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemRegistryCreateIsIdempotent(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	first := QueueConfig{Name: "orders", DefaultRegion: "us-east", InflightTimeout: time.Minute}
	second := QueueConfig{Name: "orders", DefaultRegion: "eu-west", InflightTimeout: 2 * time.Minute}
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, second))

	got, err := r.Get(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "us-east", got.DefaultRegion)
}

func TestQueueConfigRegionsCombinesDefaultAndReplicas(t *testing.T) {
	cfg := QueueConfig{DefaultRegion: "us-east", ReplicaRegions: []string{"us-west", "eu-west"}}
	require.Equal(t, []string{"us-east", "us-west", "eu-west"}, cfg.Regions())
}

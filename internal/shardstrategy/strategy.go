// Package shardstrategy selects the shard a write or read for a given
// (queue, region, type, time-UUID) belongs to, implementing spec.md §4.3.
package shardstrategy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/usergrid/qakka/internal/metrics"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
)

// Strategy chooses shards for (queue, region, type) families, rolling
// over to a new shard once the current head's counter reaches maxSize.
type Strategy struct {
	shards   shard.Store
	counters shardcounter.Store
	maxSize  int64
	// now is overridable in tests; production callers leave it nil and
	// get uuid.NewUUID (a real time-UUID).
	now func() (uuid.UUID, error)
}

// New builds a Strategy. maxSize is the shard rollover threshold
// (spec.md's shardMaxSize configuration option).
func New(shards shard.Store, counters shardcounter.Store, maxSize int64) *Strategy {
	return &Strategy{
		shards:   shards,
		counters: counters,
		maxSize:  maxSize,
		now:      uuid.NewUUID,
	}
}

// Select implements spec.md §4.3: list shards for the family ordered by
// pointerUUID, pick the greatest one not after at, and roll over to a
// freshly allocated shard if that shard looks full and at is newer than
// the current head - i.e. we're writing, not scanning historical reads.
func (s *Strategy) Select(ctx context.Context, queue, region string, typ shard.Type, at uuid.UUID) (shard.Shard, error) {
	shards, err := s.shards.List(ctx, queue, region, typ)
	if err != nil {
		return shard.Shard{}, fmt.Errorf("shardstrategy: select %s/%s/%s: %w", queue, region, typ, err)
	}

	if len(shards) == 0 {
		return s.allocate(ctx, queue, region, typ)
	}

	chosen, head := pickShard(shards, at)

	if head.PointerUUID == chosen.PointerUUID && isNewer(at, head.PointerUUID) {
		full, err := s.isFull(ctx, chosen)
		if err != nil {
			return shard.Shard{}, err
		}
		if full {
			return s.allocate(ctx, queue, region, typ)
		}
	}

	return chosen, nil
}

// pickShard returns the greatest shard whose PointerUUID <= at, falling
// back to the oldest shard if at precedes every existing shard (a read
// for a time before any shard existed still has to land somewhere). It
// also returns the head (most recent) shard for the rollover check.
func pickShard(shards []shard.Shard, at uuid.UUID) (chosen, head shard.Shard) {
	head = shards[len(shards)-1]
	chosen = shards[0]
	for _, sh := range shards {
		if !isNewer(sh.PointerUUID, at) {
			chosen = sh
		} else {
			break
		}
	}
	return chosen, head
}

// isNewer reports whether a's encoded time is strictly after b's.
func isNewer(a, b uuid.UUID) bool {
	return shard.Before(b, a)
}

func (s *Strategy) isFull(ctx context.Context, sh shard.Shard) (bool, error) {
	count, err := s.counters.Count(ctx, shardcounter.Key{
		Queue: sh.Queue, Region: sh.Region, Type: int(sh.Type), ShardID: sh.ShardID,
	})
	if err != nil {
		return false, fmt.Errorf("shardstrategy: count %s/%s/%s: %w", sh.Queue, sh.Region, sh.Type, err)
	}
	return count >= s.maxSize, nil
}

func (s *Strategy) allocate(ctx context.Context, queue, region string, typ shard.Type) (shard.Shard, error) {
	pointer, err := s.now()
	if err != nil {
		return shard.Shard{}, fmt.Errorf("shardstrategy: generate pointer uuid: %w", err)
	}
	sh := shard.New(queue, region, typ, pointer)
	if err := s.shards.Create(ctx, sh); err != nil {
		return shard.Shard{}, fmt.Errorf("shardstrategy: allocate %s/%s/%s: %w", queue, region, typ, err)
	}
	metrics.ShardRollovers.WithLabelValues(queue, region, typ.String()).Inc()
	return sh, nil
}

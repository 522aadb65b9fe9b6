// Package reaper implements the inflight timeout sweep (C9): a periodic
// scan that returns every inflight message whose lease has expired back
// to available, the at-least-once safety net behind spec.md §4.9.
package reaper

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usergrid/qakka/internal/actor"
	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/logging"
	"github.com/usergrid/qakka/internal/metrics"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/store"
)

// DefaultPageSize bounds how many inflight rows one ScanShard call returns, so a
// sweep yields the goroutine scheduler between pages rather than holding
// a shard's full contents in memory.
const DefaultPageSize = 200

// Reaper sweeps every (queue, region) the router knows about, looking for
// inflight rows past their deadline.
type Reaper struct {
	router   *actor.Router
	store    store.Store
	shards   shard.Store
	logger   zerolog.Logger
	pageSize int
}

// New builds a Reaper. router supplies the set of live (queue, region)
// pairs to sweep (Registered); store and shards back the scan directly,
// since reading inflight rows doesn't need to go through an actor's
// mailbox - only the resulting Return does.
func New(router *actor.Router, s store.Store, shards shard.Store, logger zerolog.Logger) *Reaper {
	return &Reaper{router: router, store: s, shards: shards, logger: logger, pageSize: DefaultPageSize}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	defer logging.RecoverPanic(r.logger, "reaper.Run", nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	for _, qr := range r.router.Registered() {
		if err := r.sweepQueueRegion(ctx, qr.Queue, qr.Region); err != nil {
			logging.LogError(r.logger, err, "reaper: sweep failed", map[string]any{
				"queue": qr.Queue, "region": qr.Region,
			})
		}
	}
}

func (r *Reaper) sweepQueueRegion(ctx context.Context, queue, region string) error {
	shards, err := r.shards.List(ctx, queue, region, shard.Inflight)
	if err != nil {
		return err
	}

	a := r.router.Dispatch(queue, region)
	now := time.Now().UnixMilli()

	for _, sh := range shards {
		cursor := uuid.UUID{}
		for {
			rows, err := r.store.ScanShard(ctx, queue, region, shard.Inflight, sh.ShardID, cursor, r.pageSize)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				break
			}

			for _, ptr := range rows {
				if ptr.InflightAt > now {
					continue
				}
				if err := a.Return(ctx, ptr.QueueMessageID, audit.ActionTimeout); err != nil {
					logging.LogError(r.logger, err, "reaper: failed to return expired lease", map[string]any{
						"queue": queue, "region": region, "queue_message_id": ptr.QueueMessageID,
					})
					continue
				}
				metrics.MessagesTimedOut.WithLabelValues(queue, region).Inc()
			}

			cursor = rows[len(rows)-1].QueueMessageID
			if len(rows) < r.pageSize {
				break
			}
			runtime.Gosched()
		}
	}
	return nil
}

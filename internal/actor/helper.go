// Package actor implements the per-queue state machine (C6) and the
// single-writer actor/router that serializes access to it (C7).
package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/logging"
	"github.com/usergrid/qakka/internal/qerrors"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/store"
)

// Lease is a message handed to a consumer by GetNext: the inflight
// pointer plus its body.
type Lease struct {
	QueueMessageID uuid.UUID
	MessageID      uuid.UUID
	Region         string
	ContentType    string
	Body           []byte
}

// Helper implements the C6 state-machine operations against C4 (store)
// and C5 (audit), parameterized by one queue's inflight timeout.
type Helper struct {
	store           store.Store
	shards          shard.Store
	audit           audit.Log
	logger          zerolog.Logger
	inflightTimeout time.Duration
}

// NewHelper builds a Helper. inflightTimeout is the lease duration applied
// by PutInflight.
func NewHelper(s store.Store, shards shard.Store, log audit.Log, inflightTimeout time.Duration, logger zerolog.Logger) *Helper {
	return &Helper{store: s, shards: shards, audit: log, inflightTimeout: inflightTimeout, logger: logger}
}

func wrapInternal(err error) error {
	return fmt.Errorf("%w: %v", qerrors.ErrInternal, err)
}

// LoadMessage delegates to C4, resolving shardID via the store's own
// shard-strategy wiring.
func (h *Helper) LoadMessage(ctx context.Context, queue, region string, typ shard.Type, queueMessageID uuid.UUID) (*store.Pointer, error) {
	ptr, err := h.store.LoadMessage(ctx, queue, region, nil, typ, queueMessageID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	return ptr, nil
}

// PutInflight leases an available pointer: insert the inflight copy,
// delete the available row, append the GET audit record. Per spec.md
// §4.6, a crash between the insert and the delete leaves a harmless
// duplicate; both ack and the reaper tolerate it.
func (h *Helper) PutInflight(ctx context.Context, queue, region string, ptr store.Pointer) (store.Pointer, error) {
	inflight := ptr
	inflight.InflightAt = time.Now().Add(h.inflightTimeout).UnixMilli()
	inflight.ShardID = 0 // re-resolve: inflight shards are a distinct family from available

	written, err := h.store.WriteMessage(ctx, queue, region, shard.Inflight, inflight)
	if err != nil {
		return store.Pointer{}, wrapInternal(err)
	}

	if err := h.store.DeleteMessage(ctx, queue, region, nil, shard.Default, ptr.QueueMessageID); err != nil {
		logging.LogError(h.logger, err, "put inflight: failed to delete available row, duplicate pointer accepted", map[string]any{
			"queue": queue, "region": region, "queue_message_id": ptr.QueueMessageID,
		})
	}

	h.recordAudit(ctx, ptr.MessageID, queue, audit.ActionGet, nil)
	return written, nil
}

// Ack acknowledges a leased message: delete its inflight row and append
// the ACK audit record. Returns ErrBadRequest if the row is not inflight
// (never leased, already acked, or already reaped).
func (h *Helper) Ack(ctx context.Context, queue, region string, queueMessageID uuid.UUID) error {
	ptr, err := h.store.LoadMessage(ctx, queue, region, nil, shard.Inflight, queueMessageID)
	if err != nil {
		return wrapInternal(err)
	}
	if ptr == nil {
		return qerrors.ErrBadRequest
	}

	if err := h.store.DeleteMessage(ctx, queue, region, nil, shard.Inflight, queueMessageID); err != nil {
		return wrapInternal(err)
	}

	h.recordAudit(ctx, ptr.MessageID, queue, audit.ActionAck, nil)
	return nil
}

// Return moves a leased message back to available under the same
// queueMessageID with a refreshed queuedAt, recording either NACK or
// TIMEOUT depending on the caller. It is idempotent: if the inflight row
// is already gone (already acked, already returned), it is a no-op.
func (h *Helper) Return(ctx context.Context, queue, region string, queueMessageID uuid.UUID, action audit.Action) error {
	ptr, err := h.store.LoadMessage(ctx, queue, region, nil, shard.Inflight, queueMessageID)
	if err != nil {
		return wrapInternal(err)
	}
	if ptr == nil {
		return nil
	}

	if err := h.store.DeleteMessage(ctx, queue, region, nil, shard.Inflight, queueMessageID); err != nil {
		return wrapInternal(err)
	}

	available := *ptr
	available.InflightAt = 0
	available.ShardID = 0
	available.QueuedAt = time.Now().UnixMilli()
	if _, err := h.store.WriteMessage(ctx, queue, region, shard.Default, available); err != nil {
		return wrapInternal(err)
	}

	h.recordAudit(ctx, ptr.MessageID, queue, action, nil)
	return nil
}

// GetNext leases up to count available messages, oldest shard first,
// ascending by queueMessageID within each shard (spec.md §8 property 1,
// scenario S4). Pagination follows the design notes' "explicit cursor per
// shard" guidance rather than loading a shard wholesale.
func (h *Helper) GetNext(ctx context.Context, queue, region string, count int) ([]Lease, error) {
	shards, err := h.shards.List(ctx, queue, region, shard.Default)
	if err != nil {
		return nil, wrapInternal(err)
	}

	var leases []Lease
	for _, sh := range shards {
		if len(leases) >= count {
			break
		}
		cursor := uuid.UUID{}
		for len(leases) < count {
			rows, err := h.store.ScanShard(ctx, queue, region, shard.Default, sh.ShardID, cursor, count-len(leases))
			if err != nil {
				return leases, wrapInternal(err)
			}
			if len(rows) == 0 {
				break
			}
			for _, ptr := range rows {
				leased, err := h.PutInflight(ctx, queue, region, ptr)
				if err != nil {
					logging.LogError(h.logger, err, "get next: failed to lease pointer, leaving available for retry", map[string]any{
						"queue": queue, "region": region, "queue_message_id": ptr.QueueMessageID,
					})
					continue
				}
				body, err := h.store.LoadMessageData(ctx, ptr.MessageID)
				if err != nil {
					return leases, wrapInternal(err)
				}
				lease := Lease{QueueMessageID: leased.QueueMessageID, MessageID: leased.MessageID, Region: region}
				if body != nil {
					lease.ContentType = body.ContentType
					lease.Body = body.Data
				}
				leases = append(leases, lease)
			}
			cursor = rows[len(rows)-1].QueueMessageID
		}
	}
	return leases, nil
}

// recordAudit appends a best-effort audit row: failures are logged, never
// surfaced to the caller, per spec.md §7.
func (h *Helper) recordAudit(ctx context.Context, messageID uuid.UUID, queue string, action audit.Action, cause error) {
	status := audit.StatusSuccess
	if cause != nil {
		status = audit.StatusError
	}
	if err := h.audit.RecordAudit(ctx, messageID, queue, action, status, cause); err != nil {
		logging.LogError(h.logger, err, "audit append failed", map[string]any{
			"message_id": messageID, "queue": queue, "action": action,
		})
	}
}

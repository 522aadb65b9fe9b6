// Package qakka implements the distributed queue service façade (C8):
// the cluster-facing API that fans a send out to every replica region and
// confirms region routing for get/ack.
package qakka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/usergrid/qakka/internal/actor"
	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/logging"
	"github.com/usergrid/qakka/internal/metrics"
	"github.com/usergrid/qakka/internal/qerrors"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/store"
)

// Re-exported sentinels so callers of this package can errors.Is against
// the exit taxonomy (spec.md §7) without importing internal/qerrors
// directly.
var (
	ErrBadRequest = qerrors.ErrBadRequest
	ErrNotFound   = qerrors.ErrNotFound
	ErrQueueBusy  = qerrors.ErrQueueBusy
	ErrTimeout    = qerrors.ErrTimeout
	ErrInternal   = qerrors.ErrInternal
)

// sendEnvelope is the wire format published to NATS for a replica
// region's actor to pick up — the Go-native stand-in for the source's
// actor-cluster transport (SPEC_FULL.md §2.2).
type sendEnvelope struct {
	Queue          string    `json:"queue"`
	QueueMessageID uuid.UUID `json:"queue_message_id"`
	MessageID      uuid.UUID `json:"message_id"`
	QueuedAt       int64     `json:"queued_at"`
}

func sendSubject(region, queue string) string {
	return fmt.Sprintf("qakka.%s.%s.send", region, queue)
}

// Service is the C8 façade.
type Service struct {
	registry Registry
	store    store.Store
	shards   shard.Store
	audit    audit.Log
	router   *actor.Router
	nc       *nats.Conn
	region   string
	logger   zerolog.Logger

	subs []*nats.Subscription
}

// NewService wires a Service. nc may be nil if every queue's regions are
// all local (no cross-process fan-out needed); fanning a send out to a
// remote region without a connection fails with ErrInternal, which
// SendMessage logs and counts in ErrorsTotal without returning it.
func NewService(registry Registry, s store.Store, shards shard.Store, auditLog audit.Log, router *actor.Router, nc *nats.Conn, localRegion string, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		store:    s,
		shards:   shards,
		audit:    auditLog,
		router:   router,
		nc:       nc,
		region:   localRegion,
		logger:   logger,
	}
}

// Start subscribes to this node's region subject on NATS so sends routed
// from other nodes land on the local router. No-op if nc is nil.
func (s *Service) Start() error {
	if s.nc == nil {
		return nil
	}
	sub, err := s.nc.Subscribe(sendSubject(s.region, "*"), s.handleRemoteSend)
	if err != nil {
		return fmt.Errorf("qakka: subscribe region %s: %w", s.region, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Stop unsubscribes from NATS and shuts down every actor the router owns.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.router.Stop()
}

func (s *Service) handleRemoteSend(msg *nats.Msg) {
	var env sendEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logging.LogError(s.logger, err, "qakka: malformed remote send envelope", nil)
		return
	}
	ctx := context.Background()
	ptr := store.Pointer{QueueMessageID: env.QueueMessageID, MessageID: env.MessageID, QueuedAt: env.QueuedAt}
	if err := s.router.Dispatch(env.Queue, s.region).Send(ctx, ptr); err != nil {
		logging.LogError(s.logger, err, "qakka: failed to apply remote send", map[string]any{
			"queue": env.Queue, "region": s.region,
		})
	}
}

// CreateQueue registers queue metadata. Idempotent on duplicates.
func (s *Service) CreateQueue(ctx context.Context, cfg QueueConfig) error {
	if cfg.Name == "" {
		return s.trackErr("create_queue", ErrBadRequest)
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = s.region
	}
	if cfg.InflightTimeout <= 0 {
		cfg.InflightTimeout = 5 * time.Second
	}
	if err := s.registry.Create(ctx, cfg); err != nil {
		return s.trackErr("create_queue", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	return nil
}

// DeleteQueue removes queue metadata and tears down every region's
// shards and actor, per spec.md §3 ("removes all shards and pending
// messages").
func (s *Service) DeleteQueue(ctx context.Context, name string) error {
	cfg, err := s.registry.Get(ctx, name)
	if err != nil {
		return s.trackErr("delete_queue", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	if cfg == nil {
		return s.trackErr("delete_queue", ErrNotFound)
	}

	for _, region := range cfg.Regions() {
		s.router.Remove(name, region)
		if err := s.shards.Delete(ctx, name, region); err != nil {
			logging.LogError(s.logger, err, "qakka: failed to delete shards during queue teardown", map[string]any{
				"queue": name, "region": region,
			})
		}
	}

	if err := s.registry.Delete(ctx, name); err != nil {
		return s.trackErr("delete_queue", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	return nil
}

// SendMessage implements spec.md §4.8: write the body once, fan the
// pointer out to every region (in-process for local, over NATS for
// remote), append the SEND audit row, and return the new messageId.
func (s *Service) SendMessage(ctx context.Context, queue, contentType string, body []byte, deliveryDelay time.Duration) (uuid.UUID, error) {
	cfg, err := s.registry.Get(ctx, queue)
	if err != nil {
		return uuid.UUID{}, s.trackErr("send", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	if cfg == nil {
		return uuid.UUID{}, s.trackErr("send", ErrNotFound)
	}
	if deliveryDelay <= 0 {
		deliveryDelay = cfg.DeliveryDelay
	}

	messageID, err := uuid.NewUUID()
	if err != nil {
		return uuid.UUID{}, s.trackErr("send", fmt.Errorf("%w: %v", ErrInternal, err))
	}

	if err := s.store.WriteMessageData(ctx, store.Body{MessageID: messageID, Data: body, ContentType: contentType}); err != nil {
		return uuid.UUID{}, s.trackErr("send", fmt.Errorf("%w: %v", ErrInternal, err))
	}

	regions := cfg.Regions()
	publish := func() {
		queuedAt := time.Now().UnixMilli()
		for _, region := range regions {
			ptr := store.Pointer{QueueMessageID: messageID, MessageID: messageID, QueuedAt: queuedAt}
			if err := s.fanOutSend(ctx, queue, region, ptr); err != nil {
				s.trackErr("send", err)
				logging.LogError(s.logger, err, "qakka: send fan-out failed", map[string]any{
					"queue": queue, "region": region, "message_id": messageID,
				})
			}
		}
		metrics.MessagesSent.WithLabelValues(queue, s.region).Inc()
		s.recordAudit(ctx, messageID, queue, audit.ActionSend, nil)
	}

	if deliveryDelay <= 0 {
		publish()
	} else {
		time.AfterFunc(deliveryDelay, publish)
	}

	return messageID, nil
}

func (s *Service) fanOutSend(ctx context.Context, queue, region string, ptr store.Pointer) error {
	if region == s.region {
		return s.router.Dispatch(queue, region).Send(ctx, ptr)
	}
	if s.nc == nil {
		return fmt.Errorf("%w: no NATS connection configured for remote region %s", ErrInternal, region)
	}
	env := sendEnvelope{Queue: queue, QueueMessageID: ptr.QueueMessageID, MessageID: ptr.MessageID, QueuedAt: ptr.QueuedAt}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := s.nc.Publish(sendSubject(region, queue), payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// GetNextMessages delegates to the local-region actor.
func (s *Service) GetNextMessages(ctx context.Context, queue string, count int) ([]actor.Lease, error) {
	cfg, err := s.registry.Get(ctx, queue)
	if err != nil {
		return nil, s.trackErr("get", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	if cfg == nil {
		return nil, s.trackErr("get", ErrNotFound)
	}

	leases, err := s.router.Dispatch(queue, s.region).Get(ctx, count)
	if err != nil {
		return nil, s.trackErr("get", err)
	}
	metrics.MessagesDelivered.WithLabelValues(queue, s.region).Add(float64(len(leases)))
	return leases, nil
}

// AckMessage routes to the region that leased the message (spec.md §4.8:
// "the region that originally leased it, encoded in the response
// token"); here that region travels as actor.Lease.Region rather than an
// opaque token, since callers hold the struct directly.
func (s *Service) AckMessage(ctx context.Context, queue, region string, queueMessageID uuid.UUID) error {
	if region == "" {
		region = s.region
	}
	err := s.router.Dispatch(queue, region).Ack(ctx, queueMessageID)
	if err != nil {
		return s.trackErr("ack", err)
	}
	metrics.MessagesAcked.WithLabelValues(queue, region).Inc()
	return nil
}

// GetAuditLogs returns a message's full terminal-action history.
func (s *Service) GetAuditLogs(ctx context.Context, messageID uuid.UUID) ([]audit.Entry, error) {
	entries, err := s.audit.GetAuditLogs(ctx, messageID)
	if err != nil {
		return nil, s.trackErr("get_audit_logs", fmt.Errorf("%w: %v", ErrInternal, err))
	}
	return entries, nil
}

// trackErr increments ErrorsTotal for a non-nil error at an operation
// boundary and returns err unchanged, so call sites can wrap their
// return statement without an extra branch.
func (s *Service) trackErr(operation string, err error) error {
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(operation, qerrors.Kind(err)).Inc()
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, messageID uuid.UUID, queue string, action audit.Action, cause error) {
	status := audit.StatusSuccess
	if cause != nil {
		status = audit.StatusError
	}
	if err := s.audit.RecordAudit(ctx, messageID, queue, action, status, cause); err != nil {
		logging.LogError(s.logger, err, "qakka: audit append failed", map[string]any{
			"message_id": messageID, "queue": queue, "action": action,
		})
	}
}

package actor

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/logging"
	"github.com/usergrid/qakka/internal/metrics"
	"github.com/usergrid/qakka/internal/qerrors"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/store"
)

// Actor is the single writer for one (queue, region) pair: every request
// against that pair is serialized through its mailbox, matching spec.md
// §4.7's "exactly one live actor" requirement.
type Actor struct {
	queue, region string
	helper        *Helper
	mailbox       chan func(context.Context)
	logger        zerolog.Logger
	sendLimiter   *rate.Limiter // nil disables send-rate limiting

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewActor builds an Actor. Call Start before submitting any request.
// sendLimiter may be nil to leave Send unthrottled.
func NewActor(queue, region string, helper *Helper, mailboxBound int, sendLimiter *rate.Limiter, logger zerolog.Logger) *Actor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Actor{
		queue:       queue,
		region:      region,
		helper:      helper,
		mailbox:     make(chan func(context.Context), mailboxBound),
		sendLimiter: sendLimiter,
		logger:      logger.With().Str("queue", queue).Str("region", region).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start runs the actor's serial processing loop in its own goroutine.
func (a *Actor) Start() {
	go a.run()
}

// Stop cancels the actor and waits for its loop to exit. Commands already
// queued are abandoned; in-flight storage writes already issued are not
// rolled back (at-least-once, per spec.md §5).
func (a *Actor) Stop() {
	a.once.Do(a.cancel)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)
	metrics.ActiveActors.Inc()
	defer metrics.ActiveActors.Dec()

	for {
		select {
		case cmd := <-a.mailbox:
			metrics.MailboxDepth.WithLabelValues(a.queue, a.region).Set(float64(len(a.mailbox)))
			a.execute(cmd)
		case <-a.ctx.Done():
			return
		}
	}
}

// execute runs one command with panic recovery, mirroring the teacher's
// per-task recovery in worker_pool.go: a single bad command never takes
// the actor's loop down.
func (a *Actor) execute(cmd func(context.Context)) {
	defer logging.RecoverPanic(a.logger, "actor.execute", nil)
	cmd(a.ctx)
}

// submit is the bounded, non-blocking mailbox send spec.md §4.7 requires:
// overflow returns ErrQueueBusy rather than blocking the caller.
func (a *Actor) submit(cmd func(context.Context)) error {
	select {
	case a.mailbox <- cmd:
		return nil
	default:
		metrics.MailboxDropped.WithLabelValues(a.queue, a.region).Inc()
		return qerrors.ErrQueueBusy
	}
}

// Send enqueues an available-pointer write, blocking on the actor's
// send-rate limiter (if configured) before the mailbox submit - the
// same token-bucket backpressure the teacher applies to Kafka/broadcast
// ingestion, here protecting one queue/region from an ingestion burst
// that would otherwise just pile up as mailbox drops.
func (a *Actor) Send(ctx context.Context, ptr store.Pointer) error {
	if a.sendLimiter != nil {
		if err := a.sendLimiter.Wait(ctx); err != nil {
			return qerrors.ErrTimeout
		}
	}

	reply := make(chan error, 1)
	err := a.submit(func(cctx context.Context) {
		reply <- a.sendLocked(cctx, ptr)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return qerrors.ErrTimeout
	}
}

func (a *Actor) sendLocked(ctx context.Context, ptr store.Pointer) error {
	if _, err := a.helper.store.WriteMessage(ctx, a.queue, a.region, shard.Default, ptr); err != nil {
		return wrapInternal(err)
	}
	return nil
}

type getResult struct {
	leases []Lease
	err    error
}

// Get leases up to count available messages.
func (a *Actor) Get(ctx context.Context, count int) ([]Lease, error) {
	reply := make(chan getResult, 1)
	err := a.submit(func(cctx context.Context) {
		leases, err := a.helper.GetNext(cctx, a.queue, a.region, count)
		reply <- getResult{leases: leases, err: err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.leases, r.err
	case <-ctx.Done():
		return nil, qerrors.ErrTimeout
	}
}

// Ack acknowledges a leased message.
func (a *Actor) Ack(ctx context.Context, queueMessageID uuid.UUID) error {
	reply := make(chan error, 1)
	err := a.submit(func(cctx context.Context) {
		reply <- a.helper.Ack(cctx, a.queue, a.region, queueMessageID)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return qerrors.ErrTimeout
	}
}

// Return moves a leased message back to available (nack or reaper
// timeout).
func (a *Actor) Return(ctx context.Context, queueMessageID uuid.UUID, action audit.Action) error {
	reply := make(chan error, 1)
	err := a.submit(func(cctx context.Context) {
		reply <- a.helper.Return(cctx, a.queue, a.region, queueMessageID, action)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return qerrors.ErrTimeout
	}
}

package actor

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type routeKey struct {
	queue, region string
}

// QueueRegion identifies one live actor's route.
type QueueRegion struct {
	Queue, Region string
}

// Router maps (queue, region) to its single live Actor, creating one
// lazily on first use (spec.md §4.7: "a router hashes incoming messages
// by queueName to route to the correct actor").
type Router struct {
	mu            sync.RWMutex
	actors        map[routeKey]*Actor
	helperFactory func(queue, region string) *Helper
	mailboxBound  int
	sendRateLimit rate.Limit // per-actor Send rate, 0 disables limiting
	sendBurst     int
	logger        zerolog.Logger
}

// NewRouter builds a Router. helperFactory lets the caller (cmd/qakkad)
// supply a queue-specific inflight timeout while sharing the underlying
// store/audit/shard wiring. sendRateLimit bounds each actor's Send
// throughput in events/sec (rate.Inf or 0 disables it); sendBurst is the
// token bucket's burst size.
func NewRouter(mailboxBound int, sendRateLimit float64, sendBurst int, helperFactory func(queue, region string) *Helper, logger zerolog.Logger) *Router {
	return &Router{
		actors:        make(map[routeKey]*Actor),
		helperFactory: helperFactory,
		mailboxBound:  mailboxBound,
		sendRateLimit: rate.Limit(sendRateLimit),
		sendBurst:     sendBurst,
		logger:        logger,
	}
}

func (r *Router) actorFor(queue, region string) *Actor {
	k := routeKey{queue, region}

	r.mu.RLock()
	a, ok := r.actors[k]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[k]; ok {
		return a
	}
	var limiter *rate.Limiter
	if r.sendRateLimit > 0 {
		limiter = rate.NewLimiter(r.sendRateLimit, r.sendBurst)
	}
	a = NewActor(queue, region, r.helperFactory(queue, region), r.mailboxBound, limiter, r.logger)
	a.Start()
	r.actors[k] = a
	return a
}

// Dispatch returns the single live Actor for (queue, region), starting it
// if this is the first request against that pair.
func (r *Router) Dispatch(queue, region string) *Actor {
	return r.actorFor(queue, region)
}

// Registered lists every (queue, region) pair with a live actor, used by
// the reaper to know which pairs to sweep.
func (r *Router) Registered() []QueueRegion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]QueueRegion, 0, len(r.actors))
	for k := range r.actors {
		out = append(out, QueueRegion{Queue: k.queue, Region: k.region})
	}
	return out
}

// Remove stops and forgets the actor for (queue, region), used by
// DeleteQueue's shard teardown.
func (r *Router) Remove(queue, region string) {
	k := routeKey{queue, region}
	r.mu.Lock()
	a, ok := r.actors[k]
	delete(r.actors, k)
	r.mu.Unlock()
	if ok {
		a.Stop()
	}
}

// Stop shuts down every live actor. Used during process shutdown.
func (r *Router) Stop() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = make(map[routeKey]*Actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
}

// Package metrics declares the Prometheus collectors qakka exposes on its
// /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_messages_sent_total",
		Help: "Total number of messages accepted by sendMessage",
	}, []string{"queue", "region"})

	MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_messages_delivered_total",
		Help: "Total number of messages handed out by getNextMessages",
	}, []string{"queue", "region"})

	MessagesAcked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_messages_acked_total",
		Help: "Total number of messages acknowledged",
	}, []string{"queue", "region"})

	MessagesTimedOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_messages_timed_out_total",
		Help: "Total number of inflight messages returned to available by the reaper",
	}, []string{"queue", "region"})

	ShardRollovers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_shard_rollovers_total",
		Help: "Total number of new shards allocated, counting each family's initial shard as well as every rollover",
	}, []string{"queue", "region", "type"})

	MailboxDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qakka_actor_mailbox_depth",
		Help: "Current number of commands waiting in a queue actor's mailbox",
	}, []string{"queue", "region"})

	MailboxDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_actor_mailbox_dropped_total",
		Help: "Total number of commands rejected with QUEUE_BUSY because the mailbox was full",
	}, []string{"queue", "region"})

	ActiveActors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qakka_active_actors",
		Help: "Current number of running queue actors",
	})

	ReaperSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qakka_reaper_sweep_duration_seconds",
		Help:    "Duration of one full reaper sweep across all known shards",
		Buckets: prometheus.DefBuckets,
	})

	BodyGCDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qakka_body_gc_deleted_total",
		Help: "Total number of message bodies older than the GC max age deleted by GC",
	})

	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qakka_process_rss_bytes",
		Help: "Resident memory of the qakka process (or host-wide used memory as a fallback), last sampled by sysmonitor",
	})

	ProcessGoroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qakka_process_goroutines",
		Help: "Number of goroutines running in the process, last sampled by sysmonitor",
	})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qakka_errors_total",
		Help: "Total errors by operation and error kind",
	}, []string{"operation", "kind"})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessagesDelivered,
		MessagesAcked,
		MessagesTimedOut,
		ShardRollovers,
		MailboxDepth,
		MailboxDropped,
		ActiveActors,
		ReaperSweepDuration,
		BodyGCDeleted,
		ProcessRSSBytes,
		ProcessGoroutines,
		ErrorsTotal,
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

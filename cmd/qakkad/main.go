// Command qakkad runs one qakka broker node: it loads configuration,
// establishes storage and transport connections, wires the C1-C9
// components together, and serves requests until signalled to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gocql/gocql"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	_ "go.uber.org/automaxprocs"

	"github.com/usergrid/qakka/internal/actor"
	"github.com/usergrid/qakka/internal/audit"
	"github.com/usergrid/qakka/internal/config"
	"github.com/usergrid/qakka/internal/logging"
	"github.com/usergrid/qakka/internal/metrics"
	"github.com/usergrid/qakka/internal/qakka"
	"github.com/usergrid/qakka/internal/reaper"
	"github.com/usergrid/qakka/internal/shard"
	"github.com/usergrid/qakka/internal/shardcounter"
	"github.com/usergrid/qakka/internal/shardstrategy"
	"github.com/usergrid/qakka/internal/store"
	"github.com/usergrid/qakka/internal/sysmonitor"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qakkad: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	session, err := connectCassandra(cfg.CassandraHosts, cfg.CassandraKeyspace, cfg.CassandraTimeout, cfg.CassandraConsLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cassandra")
	}
	defer session.Close()

	if err := applySchema(session); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, replica-region fan-out disabled")
		nc = nil
	} else {
		defer nc.Close()
	}

	shardStore := shard.NewCassandraStore(session)
	counterStore := shardcounter.NewCassandraStore(session)
	accumulator := shardcounter.NewAccumulator(counterStore, logger, time.Duration(cfg.CounterFlushIntervalMs)*time.Millisecond, cfg.ShardMaxSize/10)
	strategy := shardstrategy.New(shardStore, counterStore, cfg.ShardMaxSize)
	crud := store.NewCassandraCRUD(session, shardStore, strategy, accumulator)
	auditLog := audit.NewIdempotentLog(audit.NewCassandraLog(session), cfg.AuditDedupeCapacity)
	registry := qakka.NewCassandraRegistry(session)

	helperFactory := func(queue, region string) *actor.Helper {
		inflightTimeout := time.Duration(cfg.InflightTimeoutMs) * time.Millisecond
		if c, err := registry.Get(context.Background(), queue); err == nil && c != nil && c.InflightTimeout > 0 {
			inflightTimeout = c.InflightTimeout
		}
		return actor.NewHelper(crud, shardStore, auditLog, inflightTimeout, logger)
	}
	router := actor.NewRouter(cfg.MailboxBound, cfg.SendRateLimitPerSec, cfg.SendBurst, helperFactory, logger)

	svc := qakka.NewService(registry, crud, shardStore, auditLog, router, nc, cfg.RegionLocal, logger)
	if err := svc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start qakka service")
	}

	r := reaper.New(router, crud, shardStore, logger)
	monitor := sysmonitor.New(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		r.Run(gctx, time.Duration(cfg.ReaperIntervalMs)*time.Millisecond)
		return nil
	})
	group.Go(func() error {
		accumulator.Run(gctx)
		return nil
	})
	group.Go(func() error {
		monitor.Run(gctx, cfg.MetricsInterval)
		return nil
	})
	group.Go(func() error {
		runBodyGC(gctx, crud, time.Duration(cfg.BodyGCIntervalMs)*time.Millisecond, time.Duration(cfg.BodyGCMaxAgeMs)*time.Millisecond, logger)
		return nil
	})
	group.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr, logger)
	})

	logger.Info().Str("region", cfg.RegionLocal).Msg("qakkad started")

	<-ctx.Done()
	logger.Info().Msg("shutting down qakkad")
	svc.Stop()

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		logger.Error().Err(err).Msg("qakkad exited with error")
	}
}

func connectCassandra(hosts []string, keyspace string, timeout time.Duration, consistency string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Timeout = timeout
	cluster.Consistency = gocql.ParseConsistency(consistency)
	return cluster.CreateSession()
}

// applySchema runs every CREATE TABLE IF NOT EXISTS statement the
// components declare. gocql executes one CQL statement per Query, so a
// schema constant holding several (store.Schema) is split on ";" first.
func applySchema(session *gocql.Session) error {
	blocks := []string{shard.Schema, shardcounter.Schema, store.Schema, audit.Schema, qakka.Schema}
	for _, block := range blocks {
		for _, stmt := range strings.Split(block, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if err := session.Query(stmt).Exec(); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
	}
	return nil
}

// runBodyGC periodically tombstones message_data rows older than maxAge,
// per SPEC_FULL.md §9's resolution of the body-GC open question.
func runBodyGC(ctx context.Context, s store.Store, interval, maxAge time.Duration, logger zerolog.Logger) {
	defer logging.RecoverPanic(logger, "bodygc.Run", nil)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.GCOrphanedBodies(ctx, maxAge)
			if err != nil {
				logging.LogError(logger, err, "body gc sweep failed", nil)
				continue
			}
			metrics.BodyGCDeleted.Add(float64(deleted))
			if deleted > 0 {
				logger.Info().Int("deleted", deleted).Msg("body gc swept orphaned bodies")
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
			return err
		}
		return nil
	}
}

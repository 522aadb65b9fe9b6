package qakka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// QueueConfig is a queue's metadata (spec.md §3: "Queue... Attributes:
// name, default region, set of replica regions, default inflight timeout
// (ms), default delivery deadline (ms)").
type QueueConfig struct {
	Name            string
	DefaultRegion   string
	ReplicaRegions  []string
	InflightTimeout time.Duration
	DeliveryDelay   time.Duration
}

// Regions returns every region this queue has pointers in: the default
// region plus every replica.
func (c QueueConfig) Regions() []string {
	out := make([]string, 0, 1+len(c.ReplicaRegions))
	out = append(out, c.DefaultRegion)
	out = append(out, c.ReplicaRegions...)
	return out
}

// Registry is the queue-metadata store behind createQueue/deleteQueue.
type Registry interface {
	Create(ctx context.Context, cfg QueueConfig) error
	Get(ctx context.Context, name string) (*QueueConfig, error)
	Delete(ctx context.Context, name string) error
}

// Schema is the CQL for the queues metadata table.
const Schema = `
CREATE TABLE IF NOT EXISTS queues (
	name text PRIMARY KEY,
	default_region text,
	replica_regions list<text>,
	inflight_timeout_ms bigint,
	delivery_delay_ms bigint
)`

// CassandraRegistry is the gocql-backed Registry.
type CassandraRegistry struct {
	session *gocql.Session
}

func NewCassandraRegistry(session *gocql.Session) *CassandraRegistry {
	return &CassandraRegistry{session: session}
}

// Create registers a queue's metadata. Idempotent: re-creating an
// existing queue with the same name is a no-op success, per spec.md §4.8.
func (r *CassandraRegistry) Create(ctx context.Context, cfg QueueConfig) error {
	existing, err := r.Get(ctx, cfg.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	err = r.session.Query(
		`INSERT INTO queues (name, default_region, replica_regions, inflight_timeout_ms, delivery_delay_ms) VALUES (?, ?, ?, ?, ?)`,
		cfg.Name, cfg.DefaultRegion, cfg.ReplicaRegions, cfg.InflightTimeout.Milliseconds(), cfg.DeliveryDelay.Milliseconds(),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("qakka: create queue %s: %w", cfg.Name, err)
	}
	return nil
}

func (r *CassandraRegistry) Get(ctx context.Context, name string) (*QueueConfig, error) {
	var cfg QueueConfig
	var inflightMs, delayMs int64
	cfg.Name = name
	err := r.session.Query(
		`SELECT default_region, replica_regions, inflight_timeout_ms, delivery_delay_ms FROM queues WHERE name = ?`,
		name,
	).WithContext(ctx).Scan(&cfg.DefaultRegion, &cfg.ReplicaRegions, &inflightMs, &delayMs)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qakka: get queue %s: %w", name, err)
	}
	cfg.InflightTimeout = time.Duration(inflightMs) * time.Millisecond
	cfg.DeliveryDelay = time.Duration(delayMs) * time.Millisecond
	return &cfg, nil
}

func (r *CassandraRegistry) Delete(ctx context.Context, name string) error {
	err := r.session.Query(`DELETE FROM queues WHERE name = ?`, name).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("qakka: delete queue %s: %w", name, err)
	}
	return nil
}

// MemRegistry is an in-memory Registry used by Service tests.
type MemRegistry struct {
	mu     sync.Mutex
	queues map[string]QueueConfig
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{queues: make(map[string]QueueConfig)}
}

func (r *MemRegistry) Create(ctx context.Context, cfg QueueConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[cfg.Name]; ok {
		return nil
	}
	r.queues[cfg.Name] = cfg
	return nil
}

func (r *MemRegistry) Get(ctx context.Context, name string) (*QueueConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.queues[name]
	if !ok {
		return nil, nil
	}
	cp := cfg
	return &cp, nil
}

func (r *MemRegistry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, name)
	return nil
}

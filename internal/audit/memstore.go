package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Log used by internal/actor, internal/qakka, and
// internal/reaper tests.
type MemStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]Entry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[uuid.UUID][]Entry)}
}

func (m *MemStore) RecordAudit(ctx context.Context, messageID uuid.UUID, queueName string, action Action, status Status, cause error) error {
	entry := Entry{
		MessageID: messageID,
		QueueName: queueName,
		Action:    action,
		Status:    status,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Timestamp = int64(len(m.entries[messageID]) + 1) // monotonic within a message, no wall clock needed
	m.entries[messageID] = append(m.entries[messageID], entry)
	return nil
}

func (m *MemStore) GetAuditLogs(ctx context.Context, messageID uuid.UUID) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.entries[messageID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}

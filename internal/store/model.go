package store

import "github.com/google/uuid"

// Pointer is one row of messages_available or messages_inflight: a
// reference to a Body plus its lease state within one shard.
type Pointer struct {
	QueueMessageID uuid.UUID
	MessageID      uuid.UUID
	QueuedAt       int64 // ms epoch
	InflightAt     int64 // ms epoch; 0 for available rows
	ShardID        int64
}

// Body is the message_data row: the opaque content, addressed by
// MessageID and shared across every region's pointers to it. CreatedAt
// is stamped on write and consulted only by GCOrphanedBodies.
type Body struct {
	MessageID   uuid.UUID
	Data        []byte
	ContentType string
	CreatedAt   int64 // ms epoch
}

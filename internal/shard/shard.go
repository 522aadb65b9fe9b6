// Package shard defines the identity and ordering of a queue shard.
//
// A shard partitions the pointer rows of one (queue, region, type) into
// an append-only sequence: shards are never mutated once created, only
// added to, so that old shards remain readable while new writes land on
// the newest one. See internal/shardstrategy for how a shard is chosen.
package shard

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// Type distinguishes the two shard families a queue/region maintains.
type Type int

const (
	// Default holds pointers to messages waiting to be leased.
	Default Type = iota
	// Inflight holds pointers leased to a consumer pending ack or timeout.
	Inflight
)

func (t Type) String() string {
	switch t {
	case Default:
		return "DEFAULT"
	case Inflight:
		return "INFLIGHT"
	default:
		return "UNKNOWN"
	}
}

// Shard is the tuple (queue, region, type, shardId, pointerUUID) described
// in the data model. ShardID is derived deterministically from PointerUUID
// so that any two nodes computing it from the same shard row agree.
type Shard struct {
	Queue       string
	Region      string
	Type        Type
	ShardID     int64
	PointerUUID uuid.UUID
}

// New builds a Shard for a freshly allocated pointerUUID, deriving ShardID.
func New(queue, region string, typ Type, pointerUUID uuid.UUID) Shard {
	return Shard{
		Queue:       queue,
		Region:      region,
		Type:        typ,
		ShardID:     DeriveShardID(pointerUUID),
		PointerUUID: pointerUUID,
	}
}

// DeriveShardID hashes a shard's pointer UUID into the 64-bit identifier
// used as the shard's partition key column. FNV-1a over the raw UUID bytes
// gives a uniform, deterministic mapping without needing a lookup table -
// the same idiom used elsewhere in the pack for consistent key->shard
// assignment.
func DeriveShardID(pointerUUID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(pointerUUID[:])
	return int64(h.Sum64())
}

// Before reports whether a sorts strictly before b. For time-UUIDs
// (version 1) this is chronological: a UUID generated later always sorts
// after one generated earlier. Used both to order pointer rows within a
// shard and shards within a (queue, region, type) family.
func Before(a, b uuid.UUID) bool {
	return compareTimeUUID(a, b) < 0
}

// ShardBefore reports whether shard a sorts strictly before shard b within
// the same (queue, region, type) family, ordering by PointerUUID.
func ShardBefore(a, b Shard) bool {
	return Before(a.PointerUUID, b.PointerUUID)
}

// compareTimeUUID orders two version-1 UUIDs by their encoded timestamp
// (time_hi most significant, then time_mid, then time_low),
// falling back to a byte-wise comparison for non-time UUIDs so the
// function never panics on unexpected input.
func compareTimeUUID(a, b uuid.UUID) int {
	at, aok := timeUUIDTicks(a)
	bt, bok := timeUUIDTicks(b)
	if aok && bok {
		switch {
		case at < bt:
			return -1
		case at > bt:
			return 1
		default:
			return 0
		}
	}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// timeUUIDTicks extracts the 60-bit 100ns-tick timestamp from a version-1
// UUID. The second return value is false if u is not a version-1 UUID.
func timeUUIDTicks(u uuid.UUID) (uint64, bool) {
	if u.Version() != 1 {
		return 0, false
	}
	timeLow := uint64(u[0])<<24 | uint64(u[1])<<16 | uint64(u[2])<<8 | uint64(u[3])
	timeMid := uint64(u[4])<<8 | uint64(u[5])
	timeHi := uint64(u[6]&0x0f)<<8 | uint64(u[7])
	return timeHi<<48 | timeMid<<32 | timeLow, true
}

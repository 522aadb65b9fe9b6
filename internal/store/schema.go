package store

// Schema is the CQL for the pointer and body tables (spec.md §6).
// messages_available and messages_inflight share a layout; only the
// table name differs, matching the data model's statement that they are
// "Two shard families per queue/region" rather than one table with a
// discriminator column (keeping inflight writes off the hot available
// partition, and vice versa).
const Schema = `
CREATE TABLE IF NOT EXISTS messages_available (
	queue_name text,
	region text,
	shard_id bigint,
	queue_message_id timeuuid,
	message_id uuid,
	queued_at bigint,
	inflight_at bigint,
	PRIMARY KEY ((queue_name, region, shard_id), queue_message_id)
) WITH CLUSTERING ORDER BY (queue_message_id ASC);

CREATE TABLE IF NOT EXISTS messages_inflight (
	queue_name text,
	region text,
	shard_id bigint,
	queue_message_id timeuuid,
	message_id uuid,
	queued_at bigint,
	inflight_at bigint,
	PRIMARY KEY ((queue_name, region, shard_id), queue_message_id)
) WITH CLUSTERING ORDER BY (queue_message_id ASC);

CREATE TABLE IF NOT EXISTS message_data (
	message_id uuid PRIMARY KEY,
	data blob,
	content_type text,
	created_at bigint
);`

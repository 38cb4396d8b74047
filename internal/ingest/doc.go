// Package ingest drains plant telemetry from the message transport into
// storage.
//
// Delivery is at-least-once end to end, so the pipeline deduplicates in three
// layers: the provisioning rule's queue collapses redeliveries within its
// dedup window, the inbound_messages table enforces uniqueness on the message
// hash, and the measurement write is an idempotent upsert keyed on
// (device, tag, timestamp). All three layers derive "the same message" from
// the same (topic, timestamp, deviceId) triple.
package ingest

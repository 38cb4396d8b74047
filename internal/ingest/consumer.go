package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/solarfleet-core/internal/infrastructure/mqtt"
)

// ErrMalformedMessage is returned when a telemetry payload does not parse or
// is missing its device identifier or timestamp.
var ErrMalformedMessage = errors.New("ingest: malformed message")

// Subscriber is the transport subset the consumer needs; satisfied by
// mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Consumer drains plant data topics into storage.
//
// The routing rule's queue already collapses redeliveries inside its dedup
// window (first dedup layer). The consumer provides the remaining two: a
// uniqueness constraint on the message hash rejects anything the queue let
// through twice, and the final write is an idempotent per-tag upsert, so
// replaying a message can never double-count a reading.
type Consumer struct {
	db     *sql.DB
	filter string
	logger Logger
}

// NewConsumer creates an ingest consumer. The topic filter is typically
// solar/+/data, one level per plant.
func NewConsumer(db *sql.DB, topicFilter string) *Consumer {
	return &Consumer{
		db:     db,
		filter: topicFilter,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the consumer.
func (c *Consumer) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes the consumer to its topic filter.
func (c *Consumer) Start(sub Subscriber) error {
	err := sub.Subscribe(c.filter, 1, func(topic string, payload []byte) error {
		result, err := c.Ingest(context.Background(), topic, payload)
		if err != nil {
			return err
		}
		c.logger.Debug("message ingested", "topic", topic, "result", string(result))
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.filter, err)
	}
	return nil
}

// Stop unsubscribes the consumer.
func (c *Consumer) Stop(sub Subscriber) error {
	return sub.Unsubscribe(c.filter)
}

// Ingest processes one telemetry payload.
//
// A payload whose (topic, timestamp, device) hash was seen before returns
// ResultDuplicate without touching the measurements table. A fresh payload
// records its hash and upserts one measurement per tag value; re-running the
// upsert with the same key overwrites rather than duplicates.
func (c *Consumer) Ingest(ctx context.Context, topic string, payload []byte) (Result, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ResultRejected, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.DeviceID == "" || msg.Timestamp.IsZero() {
		return ResultRejected, fmt.Errorf("%w: missing deviceId or timestamp", ErrMalformedMessage)
	}

	hash := MessageHash(topic, msg.Timestamp, msg.DeviceID)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ResultRejected, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	receivedAt := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inbound_messages (id, message_hash, topic, device_identifier, device_timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		hash,
		topic,
		msg.DeviceID,
		msg.Timestamp.UTC().Format(time.RFC3339),
		receivedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ResultDuplicate, nil
		}
		return ResultRejected, fmt.Errorf("recording inbound message: %w", err)
	}

	for tag, value := range msg.Values {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO measurements (device_identifier, tag, measured_at, value, received_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(device_identifier, tag, measured_at)
			DO UPDATE SET value = excluded.value, received_at = excluded.received_at`,
			msg.DeviceID,
			tag,
			msg.Timestamp.UTC().Format(time.RFC3339),
			value,
			receivedAt.Format(time.RFC3339),
		)
		if err != nil {
			return ResultRejected, fmt.Errorf("upserting measurement %s: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ResultRejected, fmt.Errorf("committing ingest: %w", err)
	}

	return ResultStored, nil
}

// Latest retrieves the newest measurement per tag for a device.
func (c *Consumer) Latest(ctx context.Context, deviceIdentifier string) ([]Measurement, error) {
	query := `
		SELECT device_identifier, tag, measured_at, value, received_at
		FROM measurements m
		WHERE device_identifier = ?
		AND measured_at = (
			SELECT MAX(measured_at) FROM measurements
			WHERE device_identifier = m.device_identifier AND tag = m.tag
		)
		ORDER BY tag`

	rows, err := c.db.QueryContext(ctx, query, deviceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	var measurements []Measurement
	for rows.Next() {
		var m Measurement
		var measuredAt, receivedAt string
		if err := rows.Scan(&m.DeviceID, &m.Tag, &measuredAt, &m.Value, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning measurement: %w", err)
		}
		if m.Timestamp, err = time.Parse(time.RFC3339, measuredAt); err != nil {
			return nil, fmt.Errorf("parsing measured_at: %w", err)
		}
		if m.ReceivedAt, err = time.Parse(time.RFC3339, receivedAt); err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		measurements = append(measurements, m)
	}

	return measurements, rows.Err()
}

// MessageHash derives the storage-level dedup key for a message: the same
// (topic, timestamp, device) triple the queue's dedup key hashes, so both
// layers agree on what "the same message" means.
func MessageHash(topic string, timestamp time.Time, deviceID string) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(deviceID))
	return hex.EncodeToString(h.Sum(nil))
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

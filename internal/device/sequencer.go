package device

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voltgrid/solarfleet-core/internal/plant"
)

// Querier is the subset of sql.DB and sql.Tx the sequencer needs. Passing a
// transaction lets callers fold the sequence draw into a larger atomic unit
// (device creation burns the drawn number if the rest of the unit fails,
// which is acceptable; a duplicate never is).
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Sequencer allocates device identifiers and derives topics.
//
// Each (plant, template) pair owns a monotonically increasing counter starting
// at 1. The counter row is created lazily on first use. Values are never
// reused after a device deletion; gaps are acceptable, duplicates are not.
type Sequencer struct{}

// NewSequencer creates a device identifier sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next atomically draws the next sequence value for (plant, template) and
// returns the derived identifier and topic.
//
// The increment is a single storage-level read-modify-write (upsert with
// RETURNING), never an application-level read-then-write: two concurrent
// draws for the same key can never observe the same value.
//
// Returns ErrConfiguration, without touching the counter, if the plant has no
// code or base topic.
func (s *Sequencer) Next(ctx context.Context, q Querier, p *plant.Plant, templateID, shortform string) (Allocation, error) {
	if p.Code == "" {
		return Allocation{}, fmt.Errorf("%w: plant %s has no code", ErrConfiguration, p.ID)
	}
	if p.BaseTopic == "" {
		return Allocation{}, fmt.Errorf("%w: plant %s has no base topic", ErrConfiguration, p.Code)
	}

	// Lazily create the counter at 1, or bump it by exactly one. SQLite
	// executes the whole statement atomically under its write lock.
	query := `
		INSERT INTO device_sequences (plant_id, template_id, seq)
		VALUES (?, ?, 1)
		ON CONFLICT(plant_id, template_id)
		DO UPDATE SET seq = seq + 1
		RETURNING seq`

	var seq int64
	if err := q.QueryRowContext(ctx, query, p.ID, templateID).Scan(&seq); err != nil {
		return Allocation{}, fmt.Errorf("allocating sequence for plant %s template %s: %w", p.Code, templateID, err)
	}

	identifier := fmt.Sprintf("%s_%d", shortform, seq)
	return Allocation{
		Identifier: identifier,
		Topic:      fmt.Sprintf("%s/%s", p.BaseTopic, identifier),
		Sequence:   seq,
	}, nil
}

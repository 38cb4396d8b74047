package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voltgrid/solarfleet-core/internal/plant"
	"github.com/voltgrid/solarfleet-core/internal/template"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device (with its tags) by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByIdentifier retrieves a device by its plant-scoped identifier.
	GetByIdentifier(ctx context.Context, plantID, identifier string) (*Device, error)

	// ListByPlant retrieves all of a plant's devices ordered by identifier,
	// without tags.
	ListByPlant(ctx context.Context, plantID string) ([]Device, error)

	// ListChildren retrieves the direct children of a device.
	ListChildren(ctx context.Context, parentDeviceID string) ([]Device, error)

	// ParentPairs retrieves the flat (id, parent) projection of a plant's
	// tree, the input for every traversal.
	ParentPairs(ctx context.Context, plantID string) ([]ParentPair, error)

	// Create allocates an identifier from the template's sequence, inserts
	// the device with tags cloned from the template, and appends the first
	// hierarchy history entry. All of it commits or none of it does.
	Create(ctx context.Context, p *plant.Plant, tpl *template.DeviceTemplate, parentDeviceID *string, createdBy string) (*Device, error)

	// UpdateParent reattaches a device under a new parent, bumps the
	// hierarchy version, and appends a history entry — atomically, guarded
	// by the version the caller read. Returns ErrStaleHierarchy if a
	// concurrent move got there first.
	UpdateParent(ctx context.Context, id string, parentDeviceID *string, expectedVersion int, changedBy, reason string) error

	// UpdateStatus changes a device's status.
	UpdateStatus(ctx context.Context, id, status string) error

	// Delete removes a leaf device and its tags. The drawn sequence value is
	// never reused. Returns ErrDeviceHasChildren for non-leaves.
	Delete(ctx context.Context, id string) error

	// History retrieves a device's hierarchy log, oldest first.
	History(ctx context.Context, deviceID string) ([]HistoryEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	seq *Sequencer
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, seq: NewSequencer()}
}

const deviceColumns = `id, plant_id, template_id, identifier, topic, device_type,
	parent_device_id, hierarchy_version, status, created_at, updated_at`

// GetByID retrieves a device and its tags by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	d, err := scanDeviceRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}

	if err := r.loadTags(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetByIdentifier retrieves a device by its plant-scoped identifier.
func (r *SQLiteRepository) GetByIdentifier(ctx context.Context, plantID, identifier string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE plant_id = ? AND identifier = ?`

	d, err := scanDeviceRow(r.db.QueryRowContext(ctx, query, plantID, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by identifier: %w", err)
	}

	if err := r.loadTags(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListByPlant retrieves all devices of a plant ordered by identifier.
func (r *SQLiteRepository) ListByPlant(ctx context.Context, plantID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE plant_id = ? ORDER BY identifier`
	return r.listDevices(ctx, query, plantID)
}

// ListChildren retrieves the direct children of a device.
func (r *SQLiteRepository) ListChildren(ctx context.Context, parentDeviceID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE parent_device_id = ? ORDER BY identifier`
	return r.listDevices(ctx, query, parentDeviceID)
}

func (r *SQLiteRepository) listDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// ParentPairs retrieves the flat (id, parent) projection of a plant's tree.
func (r *SQLiteRepository) ParentPairs(ctx context.Context, plantID string) ([]ParentPair, error) {
	query := `SELECT id, parent_device_id FROM devices WHERE plant_id = ?`

	rows, err := r.db.QueryContext(ctx, query, plantID)
	if err != nil {
		return nil, fmt.Errorf("querying device parents: %w", err)
	}
	defer rows.Close()

	var pairs []ParentPair
	for rows.Next() {
		var p ParentPair
		var parentID sql.NullString
		if err := rows.Scan(&p.ID, &parentID); err != nil {
			return nil, fmt.Errorf("scanning device parent: %w", err)
		}
		p.ParentID = nullableToPtr(parentID)
		pairs = append(pairs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device parents: %w", err)
	}

	return pairs, nil
}

// Create allocates the next identifier and inserts the device, its cloned
// tags, and the first history entry in a single transaction. An identifier is
// burned if the transaction rolls back; it is never handed out twice.
func (r *SQLiteRepository) Create(ctx context.Context, p *plant.Plant, tpl *template.DeviceTemplate, parentDeviceID *string, createdBy string) (*Device, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	if parentDeviceID != nil {
		var parentPlantID string
		err := tx.QueryRowContext(ctx,
			"SELECT plant_id FROM devices WHERE id = ?", *parentDeviceID,
		).Scan(&parentPlantID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, *parentDeviceID)
		}
		if err != nil {
			return nil, fmt.Errorf("querying parent device: %w", err)
		}
		if parentPlantID != p.ID {
			return nil, fmt.Errorf("%w: parent %s belongs to a different plant",
				ErrHierarchyViolation, *parentDeviceID)
		}
	}

	alloc, err := r.seq.Next(ctx, tx, p, tpl.ID, tpl.Shortform)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &Device{
		ID:               uuid.NewString(),
		PlantID:          p.ID,
		TemplateID:       tpl.ID,
		Identifier:       alloc.Identifier,
		Topic:            alloc.Topic,
		DeviceType:       tpl.DeviceType,
		ParentDeviceID:   parentDeviceID,
		HierarchyVersion: 1,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.PlantID,
		d.TemplateID,
		d.Identifier,
		d.Topic,
		d.DeviceType,
		ptrToNullable(d.ParentDeviceID),
		d.HierarchyVersion,
		d.Status,
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDeviceExists
		}
		return nil, fmt.Errorf("inserting device: %w", err)
	}

	for _, bp := range tpl.Tags {
		tag := Tag{
			ID:       uuid.NewString(),
			DeviceID: d.ID,
			Position: bp.Position,
			Name:     bp.Name,
			Unit:     bp.Unit,
			DataType: bp.DataType,
			MinValue: bp.MinValue,
			MaxValue: bp.MaxValue,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_tags (id, device_id, position, name, unit, data_type, min_value, max_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tag.ID, tag.DeviceID, tag.Position, tag.Name, tag.Unit, tag.DataType,
			floatToNullable(tag.MinValue), floatToNullable(tag.MaxValue),
		)
		if err != nil {
			return nil, fmt.Errorf("cloning tag %s: %w", bp.Name, err)
		}
		d.Tags = append(d.Tags, tag)
	}

	if err := insertHistory(ctx, tx, d.ID, d.ParentDeviceID, d.HierarchyVersion, now, createdBy, "created"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing device create: %w", err)
	}

	return d, nil
}

// UpdateParent reattaches a device under a new parent with an optimistic
// version check. The version re-check, the pointer update, and the history
// append share one transaction.
func (r *SQLiteRepository) UpdateParent(ctx context.Context, id string, parentDeviceID *string, expectedVersion int, changedBy, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	// The caller's cycle check ran against a snapshot that may already be
	// stale. Re-walk the ancestor chain from the new parent inside the write
	// transaction so a concurrent move of another device cannot slip a cycle
	// in between the check and the write.
	if parentDeviceID != nil {
		if err := checkAncestorChain(ctx, tx, id, *parentDeviceID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	newVersion := expectedVersion + 1

	result, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET parent_device_id = ?, hierarchy_version = ?, updated_at = ?
		WHERE id = ? AND hierarchy_version = ?`,
		ptrToNullable(parentDeviceID),
		newVersion,
		now.Format(time.RFC3339),
		id,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating device parent: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the device vanished or its version moved on.
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM devices WHERE id = ?", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking device existence: %w", err)
		}
		if exists == 0 {
			return ErrDeviceNotFound
		}
		return ErrStaleHierarchy
	}

	if err := insertHistory(ctx, tx, id, parentDeviceID, newVersion, now, changedBy, reason); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device move: %w", err)
	}
	return nil
}

// UpdateStatus changes a device's status.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusActive, StatusInactive, StatusMaintenance:
	default:
		return fmt.Errorf("device: invalid status %q", status)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a leaf device, its tags, and its history. The child check
// and the delete share one transaction so a concurrent attach cannot slip
// between them. The device's sequence number stays burned.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	var childCount int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE parent_device_id = ?", id,
	).Scan(&childCount)
	if err != nil {
		return fmt.Errorf("counting device children: %w", err)
	}
	if childCount > 0 {
		return fmt.Errorf("%w: %d remaining", ErrDeviceHasChildren, childCount)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_tags WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting device tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM device_hierarchy_history WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting device history: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device delete: %w", err)
	}
	return nil
}

// History retrieves a device's hierarchy log, oldest first.
func (r *SQLiteRepository) History(ctx context.Context, deviceID string) ([]HistoryEntry, error) {
	query := `
		SELECT id, device_id, parent_device_id, hierarchy_version, effective_from, changed_by, reason
		FROM device_hierarchy_history
		WHERE device_id = ?
		ORDER BY hierarchy_version`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var parentID sql.NullString
		var effectiveFrom string
		if err := rows.Scan(&e.ID, &e.DeviceID, &parentID, &e.HierarchyVersion, &effectiveFrom, &e.ChangedBy, &e.Reason); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.ParentDeviceID = nullableToPtr(parentID)
		e.EffectiveFrom, err = time.Parse(time.RFC3339, effectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("parsing effective_from: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history entries: %w", err)
	}

	return entries, nil
}

// loadTags attaches a device's tags ordered by position.
func (r *SQLiteRepository) loadTags(ctx context.Context, d *Device) error {
	query := `
		SELECT id, device_id, position, name, unit, data_type, min_value, max_value
		FROM device_tags
		WHERE device_id = ?
		ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, d.ID)
	if err != nil {
		return fmt.Errorf("querying device tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Tag
		var minVal, maxVal sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Position, &t.Name, &t.Unit, &t.DataType, &minVal, &maxVal); err != nil {
			return fmt.Errorf("scanning device tag: %w", err)
		}
		if minVal.Valid {
			v := minVal.Float64
			t.MinValue = &v
		}
		if maxVal.Valid {
			v := maxVal.Float64
			t.MaxValue = &v
		}
		d.Tags = append(d.Tags, t)
	}

	return rows.Err()
}

// checkAncestorChain walks parent pointers upward from startID and returns
// ErrCycle if the chain reaches deviceID. A visited set terminates the walk
// should the stored chain already be circular.
func checkAncestorChain(ctx context.Context, tx *sql.Tx, deviceID, startID string) error {
	seen := make(map[string]bool)
	cur := startID
	for {
		if cur == deviceID {
			return ErrCycle
		}
		if seen[cur] {
			return nil
		}
		seen[cur] = true

		var parent sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT parent_device_id FROM devices WHERE id = ?", cur,
		).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walking ancestor chain: %w", err)
		}
		if !parent.Valid {
			return nil
		}
		cur = parent.String
	}
}

// insertHistory appends one row to the append-only hierarchy log.
func insertHistory(ctx context.Context, tx *sql.Tx, deviceID string, parentID *string, version int, at time.Time, changedBy, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO device_hierarchy_history (id, device_id, parent_device_id, hierarchy_version, effective_from, changed_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		deviceID,
		ptrToNullable(parentID),
		version,
		at.Format(time.RFC3339),
		changedBy,
		reason,
	)
	if err != nil {
		return fmt.Errorf("appending hierarchy history: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device, tags excluded.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var parentID sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.PlantID,
		&d.TemplateID,
		&d.Identifier,
		&d.Topic,
		&d.DeviceType,
		&parentID,
		&d.HierarchyVersion,
		&d.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ParentDeviceID = nullableToPtr(parentID)

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// nullableToPtr converts a sql.NullString to an optional string pointer.
func nullableToPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// ptrToNullable converts an optional string pointer to a sql.NullString.
func ptrToNullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// floatToNullable converts an optional float pointer to a sql.NullFloat64.
func floatToNullable(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
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

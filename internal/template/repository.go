package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for template and hierarchy rule persistence.
type Repository interface {
	// GetByID retrieves a template (with its tag blueprints) by ID.
	// Returns ErrTemplateNotFound if the template does not exist.
	GetByID(ctx context.Context, id string) (*DeviceTemplate, error)

	// GetByShortform retrieves a template by its unique shortform.
	GetByShortform(ctx context.Context, shortform string) (*DeviceTemplate, error)

	// List retrieves all templates ordered by shortform, without tag blueprints.
	List(ctx context.Context) ([]DeviceTemplate, error)

	// Create inserts a template and its tag blueprints atomically.
	// Returns ErrTemplateExists if the shortform is already taken.
	Create(ctx context.Context, t *DeviceTemplate) error

	// Delete removes a template and its tag blueprints.
	Delete(ctx context.Context, id string) error

	// SetRule creates or replaces the hierarchy rule for a
	// (parent template, child template) pair. nil parent means plant root.
	SetRule(ctx context.Context, rule *HierarchyRule) error

	// RuleAllows reports whether an explicit rule with Allowed=true exists for
	// the (parent template, child template) pair. Absence of a rule is false:
	// attachments are deny-by-default, including at the plant root.
	RuleAllows(ctx context.Context, parentTemplateID *string, childTemplateID string) (bool, error)

	// ListRules retrieves all hierarchy rules.
	ListRules(ctx context.Context) ([]HierarchyRule, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a template by ID, including its tag blueprints.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*DeviceTemplate, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetByShortform retrieves a template by its unique shortform.
func (r *SQLiteRepository) GetByShortform(ctx context.Context, shortform string) (*DeviceTemplate, error) {
	return r.getBy(ctx, "shortform = ?", shortform)
}

func (r *SQLiteRepository) getBy(ctx context.Context, where string, arg any) (*DeviceTemplate, error) {
	query := `
		SELECT id, name, shortform, device_type, created_at, updated_at
		FROM device_templates
		WHERE ` + where

	var t DeviceTemplate
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Name, &t.Shortform, &t.DeviceType, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("querying template: %w", err)
	}

	var parseErr error
	t.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	t.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	tags, err := r.tagBlueprints(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Tags = tags

	return &t, nil
}

// tagBlueprints loads a template's ordered tag blueprints.
func (r *SQLiteRepository) tagBlueprints(ctx context.Context, templateID string) ([]TagBlueprint, error) {
	query := `
		SELECT id, template_id, position, name, unit, data_type, min_value, max_value
		FROM tag_blueprints
		WHERE template_id = ?
		ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("querying tag blueprints: %w", err)
	}
	defer rows.Close()

	var tags []TagBlueprint
	for rows.Next() {
		var b TagBlueprint
		var minValue, maxValue sql.NullFloat64
		if err := rows.Scan(
			&b.ID, &b.TemplateID, &b.Position, &b.Name, &b.Unit, &b.DataType,
			&minValue, &maxValue,
		); err != nil {
			return nil, fmt.Errorf("scanning tag blueprint: %w", err)
		}
		if minValue.Valid {
			v := minValue.Float64
			b.MinValue = &v
		}
		if maxValue.Valid {
			v := maxValue.Float64
			b.MaxValue = &v
		}
		tags = append(tags, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tag blueprints: %w", err)
	}

	return tags, nil
}

// List retrieves all templates without their tag blueprints.
func (r *SQLiteRepository) List(ctx context.Context) ([]DeviceTemplate, error) {
	query := `
		SELECT id, name, shortform, device_type, created_at, updated_at
		FROM device_templates
		ORDER BY shortform`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []DeviceTemplate
	for rows.Next() {
		var t DeviceTemplate
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Shortform, &t.DeviceType, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}

	return templates, nil
}

// Create inserts a template and its tag blueprints in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, t *DeviceTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_templates (id, name, shortform, device_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		t.Shortform,
		t.DeviceType,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrTemplateExists
		}
		return fmt.Errorf("inserting template: %w", err)
	}

	for i := range t.Tags {
		b := &t.Tags[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.TemplateID = t.ID
		b.Position = i

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tag_blueprints (id, template_id, position, name, unit, data_type, min_value, max_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.TemplateID, b.Position, b.Name, b.Unit, b.DataType,
			nullableFloat(b.MinValue), nullableFloat(b.MaxValue),
		)
		if err != nil {
			return fmt.Errorf("inserting tag blueprint %q: %w", b.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing template create: %w", err)
	}
	return nil
}

// Delete removes a template and its tag blueprints.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	if _, err := tx.ExecContext(ctx, "DELETE FROM tag_blueprints WHERE template_id = ?", id); err != nil {
		return fmt.Errorf("deleting tag blueprints: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM device_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTemplateNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing template delete: %w", err)
	}
	return nil
}

// SetRule creates or replaces the rule for a (parent, child) template pair.
// NULL parents are stored as the empty string so the uniqueness constraint
// covers root rules too (SQLite treats NULLs as distinct in unique indexes).
func (r *SQLiteRepository) SetRule(ctx context.Context, rule *HierarchyRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	query := `
		INSERT INTO hierarchy_rules (id, parent_template_id, child_template_id, is_allowed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_template_id, child_template_id)
		DO UPDATE SET is_allowed = excluded.is_allowed`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		parentKey(rule.ParentTemplateID),
		rule.ChildTemplateID,
		boolToInt(rule.Allowed),
	)
	if err != nil {
		return fmt.Errorf("upserting hierarchy rule: %w", err)
	}
	return nil
}

// RuleAllows reports whether an explicit allowing rule exists for the pair.
func (r *SQLiteRepository) RuleAllows(ctx context.Context, parentTemplateID *string, childTemplateID string) (bool, error) {
	query := `
		SELECT is_allowed FROM hierarchy_rules
		WHERE parent_template_id = ? AND child_template_id = ?`

	var allowed int
	err := r.db.QueryRowContext(ctx, query, parentKey(parentTemplateID), childTemplateID).Scan(&allowed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No rule: deny by default.
			return false, nil
		}
		return false, fmt.Errorf("querying hierarchy rule: %w", err)
	}
	return allowed != 0, nil
}

// ListRules retrieves all hierarchy rules.
func (r *SQLiteRepository) ListRules(ctx context.Context) ([]HierarchyRule, error) {
	query := `
		SELECT id, parent_template_id, child_template_id, is_allowed
		FROM hierarchy_rules
		ORDER BY parent_template_id, child_template_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying hierarchy rules: %w", err)
	}
	defer rows.Close()

	var rules []HierarchyRule
	for rows.Next() {
		var rule HierarchyRule
		var parent string
		var allowed int
		if err := rows.Scan(&rule.ID, &parent, &rule.ChildTemplateID, &allowed); err != nil {
			return nil, fmt.Errorf("scanning hierarchy rule: %w", err)
		}
		if parent != "" {
			rule.ParentTemplateID = &parent
		}
		rule.Allowed = allowed != 0
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hierarchy rules: %w", err)
	}

	return rules, nil
}

// parentKey maps a nil parent template (plant root) to the empty string key.
func parentKey(parentTemplateID *string) string {
	if parentTemplateID == nil {
		return ""
	}
	return *parentTemplateID
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableFloat returns a sql.NullFloat64 for optional float pointers.
func nullableFloat(f *float64) sql.NullFloat64 {
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

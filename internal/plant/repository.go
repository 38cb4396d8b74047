package plant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for plant persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a plant by its unique identifier.
	// Returns ErrPlantNotFound if the plant does not exist.
	GetByID(ctx context.Context, id string) (*Plant, error)

	// GetByCode retrieves a plant by its immutable code.
	// Returns ErrPlantNotFound if no plant has that code.
	GetByCode(ctx context.Context, code string) (*Plant, error)

	// List retrieves all plants ordered by code.
	List(ctx context.Context) ([]Plant, error)

	// Create inserts a new plant after validating its code and base topic.
	// Returns ErrPlantExists if a plant with the same code already exists.
	Create(ctx context.Context, p *Plant) error

	// Update modifies a plant's mutable fields (name, base topic).
	// Returns ErrCodeImmutable if the code differs from the stored one.
	Update(ctx context.Context, p *Plant) error

	// SaveMessagingRefs stores the external resource references and encrypted
	// credential material produced by the provisioning saga.
	SaveMessagingRefs(ctx context.Context, id string, refs MessagingRefs) error

	// ClearMessagingRefs nulls out all external resource references after
	// deprovisioning.
	ClearMessagingRefs(ctx context.Context, id string) error

	// Delete removes a plant by ID.
	// Returns ErrPlantHasDevices if any device still references the plant.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const plantColumns = `id, code, name, base_topic,
	identity_name, identity_arn, credential_id, credential_arn,
	policy_name, rule_name, data_topic, command_topic,
	enc_certificate_pem, enc_private_key_pem,
	created_at, updated_at`

// GetByID retrieves a plant by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Plant, error) {
	query := `SELECT ` + plantColumns + ` FROM plants WHERE id = ?`

	p, err := scanPlantRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlantNotFound
		}
		return nil, fmt.Errorf("querying plant by id: %w", err)
	}
	return p, nil
}

// GetByCode retrieves a plant by its immutable code.
func (r *SQLiteRepository) GetByCode(ctx context.Context, code string) (*Plant, error) {
	query := `SELECT ` + plantColumns + ` FROM plants WHERE code = ?`

	p, err := scanPlantRow(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlantNotFound
		}
		return nil, fmt.Errorf("querying plant by code: %w", err)
	}
	return p, nil
}

// List retrieves all plants ordered by code.
func (r *SQLiteRepository) List(ctx context.Context) ([]Plant, error) {
	query := `SELECT ` + plantColumns + ` FROM plants ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying plants: %w", err)
	}
	defer rows.Close()

	var plants []Plant
	for rows.Next() {
		p, err := scanPlantRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plant: %w", err)
		}
		plants = append(plants, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plants: %w", err)
	}

	return plants, nil
}

// Create inserts a new plant.
func (r *SQLiteRepository) Create(ctx context.Context, p *Plant) error {
	if err := p.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO plants (id, code, name, base_topic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Code,
		p.Name,
		p.BaseTopic,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPlantExists
		}
		return fmt.Errorf("inserting plant: %w", err)
	}

	return nil
}

// Update modifies a plant's mutable fields. The code is immutable: an update
// carrying a different code is rejected before any row is touched.
func (r *SQLiteRepository) Update(ctx context.Context, p *Plant) error {
	current, err := r.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if current.Code != p.Code {
		return fmt.Errorf("%w: %q cannot become %q", ErrCodeImmutable, current.Code, p.Code)
	}
	if err := ValidateBaseTopic(p.BaseTopic); err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()

	query := `UPDATE plants SET name = ?, base_topic = ?, updated_at = ? WHERE id = ?`

	_, err = r.db.ExecContext(ctx, query,
		p.Name,
		p.BaseTopic,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating plant: %w", err)
	}

	return nil
}

// SaveMessagingRefs stores the provisioning saga's output on the plant row.
func (r *SQLiteRepository) SaveMessagingRefs(ctx context.Context, id string, refs MessagingRefs) error {
	query := `
		UPDATE plants SET
			identity_name = ?, identity_arn = ?,
			credential_id = ?, credential_arn = ?,
			policy_name = ?, rule_name = ?,
			data_topic = ?, command_topic = ?,
			enc_certificate_pem = ?, enc_private_key_pem = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		refs.IdentityName,
		refs.IdentityARN,
		refs.CredentialID,
		refs.CredentialARN,
		refs.PolicyName,
		refs.RuleName,
		refs.DataTopic,
		refs.CommandTopic,
		refs.EncCertificatePEM,
		refs.EncPrivateKeyPEM,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("saving messaging refs: %w", err)
	}
	return requireRow(result)
}

// ClearMessagingRefs nulls out all external resource references.
func (r *SQLiteRepository) ClearMessagingRefs(ctx context.Context, id string) error {
	query := `
		UPDATE plants SET
			identity_name = NULL, identity_arn = NULL,
			credential_id = NULL, credential_arn = NULL,
			policy_name = NULL, rule_name = NULL,
			data_topic = NULL, command_topic = NULL,
			enc_certificate_pem = NULL, enc_private_key_pem = NULL,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("clearing messaging refs: %w", err)
	}
	return requireRow(result)
}

// Delete removes a plant by ID. The check and the delete run in one
// transaction so a concurrent device creation cannot slip between them.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	var deviceCount int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE plant_id = ?", id,
	).Scan(&deviceCount)
	if err != nil {
		return fmt.Errorf("counting plant devices: %w", err)
	}
	if deviceCount > 0 {
		return fmt.Errorf("%w: %d remaining", ErrPlantHasDevices, deviceCount)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM plants WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting plant: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing plant delete: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPlantRow scans a row or rows result into a Plant.
func scanPlantRow(scanner rowScanner) (*Plant, error) {
	var p Plant
	var identityName, identityARN, credentialID, credentialARN sql.NullString
	var policyName, ruleName, dataTopic, commandTopic sql.NullString
	var encCert, encKey sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Code,
		&p.Name,
		&p.BaseTopic,
		&identityName,
		&identityARN,
		&credentialID,
		&credentialARN,
		&policyName,
		&ruleName,
		&dataTopic,
		&commandTopic,
		&encCert,
		&encKey,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.IdentityName = nullableToPtr(identityName)
	p.IdentityARN = nullableToPtr(identityARN)
	p.CredentialID = nullableToPtr(credentialID)
	p.CredentialARN = nullableToPtr(credentialARN)
	p.PolicyName = nullableToPtr(policyName)
	p.RuleName = nullableToPtr(ruleName)
	p.DataTopic = nullableToPtr(dataTopic)
	p.CommandTopic = nullableToPtr(commandTopic)
	p.EncCertificatePEM = nullableToPtr(encCert)
	p.EncPrivateKeyPEM = nullableToPtr(encKey)

	var parseErr error
	p.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	p.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &p, nil
}

// requireRow converts a zero-rows-affected result into ErrPlantNotFound.
func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPlantNotFound
	}
	return nil
}

// nullableToPtr converts a sql.NullString to an optional string pointer.
func nullableToPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
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

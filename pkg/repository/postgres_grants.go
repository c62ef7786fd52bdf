package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// PostgresGrantRepository persists temporary access grants in PostgreSQL
type PostgresGrantRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresGrantRepository creates a new PostgreSQL grant repository
func NewPostgresGrantRepository(db *sql.DB, log *logger.Logger) *PostgresGrantRepository {
	return &PostgresGrantRepository{db: db, logger: log}
}

const grantColumns = `id, matrix_id, matrix_version, rule_id, beneficiary_id, granted_by, reason,
	expires_at, max_usage, usage_count, revoked, revoked_by, revoked_at, revoke_reason, created_at`

// Create inserts a new grant
func (r *PostgresGrantRepository) Create(ctx context.Context, grant *access.TemporaryAccessGrant) error {
	query := `
		INSERT INTO access_grants (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		grant.ID,
		grant.MatrixID,
		grant.MatrixVersion,
		grant.RuleID,
		grant.BeneficiaryID,
		grant.GrantedBy,
		grant.Reason,
		grant.ExpiresAt,
		grant.MaxUsage,
		grant.UsageCount,
		grant.Revoked,
		nullString(grant.RevokedBy),
		grant.RevokedAt,
		nullString(grant.RevokeReason),
		grant.CreatedAt,
	)
	if err != nil {
		return access.NewInternal("failed to create grant", err)
	}
	return nil
}

// GetByID retrieves a grant by id
func (r *PostgresGrantRepository) GetByID(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE id = $1`
	return scanGrant(r.db.QueryRowContext(ctx, query, grantID), grantID)
}

func scanGrant(row *sql.Row, grantID string) (*access.TemporaryAccessGrant, error) {
	var grant access.TemporaryAccessGrant
	var revokedBy, revokeReason sql.NullString
	var revokedAt sql.NullTime

	err := row.Scan(
		&grant.ID,
		&grant.MatrixID,
		&grant.MatrixVersion,
		&grant.RuleID,
		&grant.BeneficiaryID,
		&grant.GrantedBy,
		&grant.Reason,
		&grant.ExpiresAt,
		&grant.MaxUsage,
		&grant.UsageCount,
		&grant.Revoked,
		&revokedBy,
		&revokedAt,
		&revokeReason,
		&grant.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, access.NewNotFound("grant", grantID)
		}
		return nil, access.NewInternal("failed to load grant", err)
	}

	grant.RevokedBy = revokedBy.String
	grant.RevokeReason = revokeReason.String
	if revokedAt.Valid {
		t := revokedAt.Time
		grant.RevokedAt = &t
	}
	return &grant, nil
}

// Update replaces the mutable fields of a grant. The usage counter is owned
// by Consume and is never written here, so a stale snapshot cannot roll back
// consumed uses.
func (r *PostgresGrantRepository) Update(ctx context.Context, grant *access.TemporaryAccessGrant) error {
	query := `
		UPDATE access_grants
		SET expires_at = $1, max_usage = $2, revoked = $3,
			revoked_by = $4, revoked_at = $5, revoke_reason = $6
		WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		grant.ExpiresAt,
		grant.MaxUsage,
		grant.Revoked,
		nullString(grant.RevokedBy),
		grant.RevokedAt,
		nullString(grant.RevokeReason),
		grant.ID,
	)
	if err != nil {
		return access.NewInternal("failed to update grant", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return access.NewInternal("failed to read update result", err)
	}
	if affected == 0 {
		return access.NewNotFound("grant", grant.ID)
	}
	return nil
}

// Consume increments the usage counter with a guarded UPDATE: the WHERE
// clause re-checks revocation, expiry, and the usage cap inside the same
// statement, so concurrent consumers can never push the counter past
// MaxUsage.
func (r *PostgresGrantRepository) Consume(ctx context.Context, grantID string, now time.Time) (*access.TemporaryAccessGrant, error) {
	query := `
		UPDATE access_grants
		SET usage_count = usage_count + 1
		WHERE id = $1
			AND NOT revoked
			AND expires_at > $2
			AND (max_usage = 0 OR usage_count < max_usage)
		RETURNING ` + grantColumns

	grant, err := scanGrant(r.db.QueryRowContext(ctx, query, grantID, now), grantID)
	if err == nil {
		return grant, nil
	}
	if !access.IsType(err, access.ErrorTypeNotFound) {
		return nil, err
	}

	// The guarded update matched nothing; load the row to report why
	existing, getErr := r.GetByID(ctx, grantID)
	if getErr != nil {
		return nil, getErr
	}
	switch existing.Status(now) {
	case access.GrantStatusRevoked:
		return nil, access.NewRevoked("grant has been revoked: " + grantID)
	case access.GrantStatusExpired:
		return nil, access.NewExpired("grant has expired: " + grantID)
	case access.GrantStatusExhausted:
		return nil, access.NewExhausted("grant usage limit reached: " + grantID)
	default:
		return nil, access.NewConflict("grant could not be consumed: " + grantID)
	}
}

// List returns grants matching the filter, newest first
func (r *PostgresGrantRepository) List(ctx context.Context, filter access.GrantFilter) ([]*access.TemporaryAccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE 1=1`
	args := []interface{}{}

	if filter.MatrixID != "" {
		args = append(args, filter.MatrixID)
		query += ` AND matrix_id = $` + itoa(len(args))
	}
	if filter.BeneficiaryID != "" {
		args = append(args, filter.BeneficiaryID)
		query += ` AND beneficiary_id = $` + itoa(len(args))
	}
	if filter.ActiveOnly {
		args = append(args, time.Now())
		n := itoa(len(args))
		query += ` AND NOT revoked AND expires_at > $` + n + ` AND (max_usage = 0 OR usage_count < max_usage)`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, access.NewInternal("failed to list grants", err)
	}
	defer rows.Close()

	var result []*access.TemporaryAccessGrant
	for rows.Next() {
		var grant access.TemporaryAccessGrant
		var revokedBy, revokeReason sql.NullString
		var revokedAt sql.NullTime
		if err := rows.Scan(
			&grant.ID,
			&grant.MatrixID,
			&grant.MatrixVersion,
			&grant.RuleID,
			&grant.BeneficiaryID,
			&grant.GrantedBy,
			&grant.Reason,
			&grant.ExpiresAt,
			&grant.MaxUsage,
			&grant.UsageCount,
			&grant.Revoked,
			&revokedBy,
			&revokedAt,
			&revokeReason,
			&grant.CreatedAt,
		); err != nil {
			return nil, access.NewInternal("failed to scan grant row", err)
		}
		grant.RevokedBy = revokedBy.String
		grant.RevokeReason = revokeReason.String
		if revokedAt.Valid {
			t := revokedAt.Time
			grant.RevokedAt = &t
		}
		result = append(result, &grant)
	}
	if err := rows.Err(); err != nil {
		return nil, access.NewInternal("failed to iterate grant rows", err)
	}
	return result, nil
}

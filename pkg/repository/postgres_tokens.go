package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// PostgresTokenRepository persists emergency tokens in PostgreSQL
type PostgresTokenRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresTokenRepository creates a new PostgreSQL token repository
func NewPostgresTokenRepository(db *sql.DB, log *logger.Logger) *PostgresTokenRepository {
	return &PostgresTokenRepository{db: db, logger: log}
}

const tokenColumns = `id, owner_id, contact_id, file_ids, access_level, secret_hash, expires_at,
	max_uses, current_uses, ip_restrictions, metadata, activated_at, refreshed_at,
	revoked_at, revoked_reason, created_at`

// Create inserts a new token
func (r *PostgresTokenRepository) Create(ctx context.Context, token *access.EmergencyToken) error {
	fileIDs, err := json.Marshal(token.FileIDs)
	if err != nil {
		return access.NewInternal("failed to marshal file ids", err)
	}
	ipRestrictions, err := json.Marshal(token.IPRestrictions)
	if err != nil {
		return access.NewInternal("failed to marshal ip restrictions", err)
	}
	metadata, err := json.Marshal(token.Metadata)
	if err != nil {
		return access.NewInternal("failed to marshal metadata", err)
	}

	query := `
		INSERT INTO emergency_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.ExecContext(ctx, query,
		token.ID,
		token.OwnerID,
		token.ContactID,
		fileIDs,
		string(token.AccessLevel),
		token.SecretHash,
		token.ExpiresAt,
		token.MaxUses,
		token.CurrentUses,
		ipRestrictions,
		metadata,
		token.ActivatedAt,
		token.RefreshedAt,
		token.RevokedAt,
		nullString(token.RevokedReason),
		token.CreatedAt,
	)
	if err != nil {
		return access.NewInternal("failed to create token", err)
	}
	return nil
}

// GetByID retrieves a token by id
func (r *PostgresTokenRepository) GetByID(ctx context.Context, tokenID string) (*access.EmergencyToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM emergency_tokens WHERE id = $1`
	return scanToken(r.db.QueryRowContext(ctx, query, tokenID), tokenID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTokenRow(row rowScanner) (*access.EmergencyToken, error) {
	var token access.EmergencyToken
	var fileIDs, ipRestrictions, metadata []byte
	var accessLevel string
	var revokedReason sql.NullString
	var activatedAt, refreshedAt, revokedAt sql.NullTime

	err := row.Scan(
		&token.ID,
		&token.OwnerID,
		&token.ContactID,
		&fileIDs,
		&accessLevel,
		&token.SecretHash,
		&token.ExpiresAt,
		&token.MaxUses,
		&token.CurrentUses,
		&ipRestrictions,
		&metadata,
		&activatedAt,
		&refreshedAt,
		&revokedAt,
		&revokedReason,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	token.AccessLevel = access.AccessLevel(accessLevel)
	token.RevokedReason = revokedReason.String
	if activatedAt.Valid {
		t := activatedAt.Time
		token.ActivatedAt = &t
	}
	if refreshedAt.Valid {
		t := refreshedAt.Time
		token.RefreshedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	if len(fileIDs) > 0 {
		if err := json.Unmarshal(fileIDs, &token.FileIDs); err != nil {
			return nil, err
		}
	}
	if len(ipRestrictions) > 0 {
		if err := json.Unmarshal(ipRestrictions, &token.IPRestrictions); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &token.Metadata); err != nil {
			return nil, err
		}
	}
	return &token, nil
}

func scanToken(row *sql.Row, tokenID string) (*access.EmergencyToken, error) {
	token, err := scanTokenRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, access.NewNotFound("token", tokenID)
		}
		return nil, access.NewInternal("failed to load token", err)
	}
	return token, nil
}

// Update replaces the mutable fields of a token. The use counter is owned by
// Consume and is never written here: activation and refresh work from a
// snapshot, and writing its counter back would resurrect burned uses.
func (r *PostgresTokenRepository) Update(ctx context.Context, token *access.EmergencyToken) error {
	query := `
		UPDATE emergency_tokens
		SET secret_hash = $1, expires_at = $2, max_uses = $3,
			activated_at = $4, refreshed_at = $5, revoked_at = $6, revoked_reason = $7
		WHERE id = $8`

	result, err := r.db.ExecContext(ctx, query,
		token.SecretHash,
		token.ExpiresAt,
		token.MaxUses,
		token.ActivatedAt,
		token.RefreshedAt,
		token.RevokedAt,
		nullString(token.RevokedReason),
		token.ID,
	)
	if err != nil {
		return access.NewInternal("failed to update token", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return access.NewInternal("failed to read update result", err)
	}
	if affected == 0 {
		return access.NewNotFound("token", token.ID)
	}
	return nil
}

// Consume increments the use counter with a guarded UPDATE so concurrent
// consumers never push CurrentUses past MaxUses. Activation is part of the
// guard: an unactivated token cannot be consumed.
func (r *PostgresTokenRepository) Consume(ctx context.Context, tokenID string, now time.Time) (*access.EmergencyToken, error) {
	query := `
		UPDATE emergency_tokens
		SET current_uses = current_uses + 1
		WHERE id = $1
			AND revoked_at IS NULL
			AND activated_at IS NOT NULL
			AND expires_at >= $2
			AND current_uses < max_uses
		RETURNING ` + tokenColumns

	token, err := scanToken(r.db.QueryRowContext(ctx, query, tokenID, now), tokenID)
	if err == nil {
		return token, nil
	}
	if !access.IsType(err, access.ErrorTypeNotFound) {
		return nil, err
	}

	existing, getErr := r.GetByID(ctx, tokenID)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case existing.IsRevoked():
		return nil, access.NewRevoked("token has been revoked: " + tokenID)
	case existing.IsExpired(now):
		return nil, access.NewExpired("token has expired: " + tokenID)
	case existing.IsUsedUp():
		return nil, access.NewExhausted("token usage limit reached: " + tokenID)
	case !existing.IsActivated():
		return nil, access.NewPreconditionFailed("token has not been activated: " + tokenID)
	default:
		return nil, access.NewConflict("token could not be consumed: " + tokenID)
	}
}

// List returns tokens matching the filter, newest first
func (r *PostgresTokenRepository) List(ctx context.Context, filter access.TokenFilter) ([]*access.EmergencyToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM emergency_tokens WHERE 1=1`
	args := []interface{}{}

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += ` AND owner_id = $` + itoa(len(args))
	}
	if filter.ContactID != "" {
		args = append(args, filter.ContactID)
		query += ` AND contact_id = $` + itoa(len(args))
	}
	if filter.ActiveOnly {
		args = append(args, time.Now())
		query += ` AND revoked_at IS NULL AND expires_at >= $` + itoa(len(args)) + ` AND current_uses < max_uses`
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
		return nil, access.NewInternal("failed to list tokens", err)
	}
	defer rows.Close()

	var result []*access.EmergencyToken
	for rows.Next() {
		token, err := scanTokenRow(rows)
		if err != nil {
			return nil, access.NewInternal("failed to scan token row", err)
		}
		result = append(result, token)
	}
	if err := rows.Err(); err != nil {
		return nil, access.NewInternal("failed to iterate token rows", err)
	}
	return result, nil
}

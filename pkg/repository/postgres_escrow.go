package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// PostgresEscrowRepository persists escrow requests in PostgreSQL. Mutations
// run inside a transaction holding a row lock (SELECT ... FOR UPDATE), so a
// quorum check and the transition it justifies are atomic together.
type PostgresEscrowRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresEscrowRepository creates a new PostgreSQL escrow repository
func NewPostgresEscrowRepository(db *sql.DB, log *logger.Logger) *PostgresEscrowRepository {
	return &PostgresEscrowRepository{db: db, logger: log}
}

const escrowColumns = `id, requester_id, requester_email, key_ids, reason, time_delay_hours,
	threshold, trustee_ids, status, trustee_decisions, collected_shares, created_at, resolved_at`

// Create inserts a new escrow request
func (r *PostgresEscrowRepository) Create(ctx context.Context, request *access.EscrowRequest) error {
	keyIDs, err := json.Marshal(request.KeyIDs)
	if err != nil {
		return access.NewInternal("failed to marshal key ids", err)
	}
	trusteeIDs, err := json.Marshal(request.TrusteeIDs)
	if err != nil {
		return access.NewInternal("failed to marshal trustee ids", err)
	}
	decisions, err := json.Marshal(request.TrusteeDecisions)
	if err != nil {
		return access.NewInternal("failed to marshal trustee decisions", err)
	}
	shares, err := json.Marshal(request.CollectedShares)
	if err != nil {
		return access.NewInternal("failed to marshal collected shares", err)
	}

	query := `
		INSERT INTO escrow_requests (` + escrowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		request.ID,
		request.RequesterID,
		request.RequesterEmail,
		keyIDs,
		request.Reason,
		request.TimeDelayHours,
		request.Threshold,
		trusteeIDs,
		string(request.Status),
		decisions,
		shares,
		request.CreatedAt,
		request.ResolvedAt,
	)
	if err != nil {
		return access.NewInternal("failed to create escrow request", err)
	}
	return nil
}

func scanEscrowRow(row rowScanner) (*access.EscrowRequest, error) {
	var request access.EscrowRequest
	var keyIDs, trusteeIDs, decisions, shares []byte
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(
		&request.ID,
		&request.RequesterID,
		&request.RequesterEmail,
		&keyIDs,
		&request.Reason,
		&request.TimeDelayHours,
		&request.Threshold,
		&trusteeIDs,
		&status,
		&decisions,
		&shares,
		&request.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	request.Status = access.EscrowStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		request.ResolvedAt = &t
	}
	if err := json.Unmarshal(keyIDs, &request.KeyIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(trusteeIDs, &request.TrusteeIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(decisions, &request.TrusteeDecisions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shares, &request.CollectedShares); err != nil {
		return nil, err
	}
	return &request, nil
}

// GetByID retrieves an escrow request by id
func (r *PostgresEscrowRepository) GetByID(ctx context.Context, requestID string) (*access.EscrowRequest, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_requests WHERE id = $1`
	request, err := scanEscrowRow(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, access.NewNotFound("escrow request", requestID)
		}
		return nil, access.NewInternal("failed to load escrow request", err)
	}
	return request, nil
}

// Mutate loads the request under a row lock, applies fn, and writes the
// result back in the same transaction. If fn errors the transaction rolls
// back and the stored state is unchanged.
func (r *PostgresEscrowRepository) Mutate(ctx context.Context, requestID string, fn func(*access.EscrowRequest) error) (*access.EscrowRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, access.NewInternal("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + escrowColumns + ` FROM escrow_requests WHERE id = $1 FOR UPDATE`
	request, err := scanEscrowRow(tx.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, access.NewNotFound("escrow request", requestID)
		}
		return nil, access.NewInternal("failed to load escrow request", err)
	}

	if err := fn(request); err != nil {
		return nil, err
	}

	decisions, err := json.Marshal(request.TrusteeDecisions)
	if err != nil {
		return nil, access.NewInternal("failed to marshal trustee decisions", err)
	}
	shares, err := json.Marshal(request.CollectedShares)
	if err != nil {
		return nil, access.NewInternal("failed to marshal collected shares", err)
	}

	update := `
		UPDATE escrow_requests
		SET status = $1, trustee_decisions = $2, collected_shares = $3, resolved_at = $4
		WHERE id = $5`

	if _, err := tx.ExecContext(ctx, update,
		string(request.Status),
		decisions,
		shares,
		request.ResolvedAt,
		request.ID,
	); err != nil {
		return nil, access.NewInternal("failed to update escrow request", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, access.NewInternal("failed to commit escrow mutation", err)
	}
	return request, nil
}

// List returns escrow requests matching the filter, newest first
func (r *PostgresEscrowRepository) List(ctx context.Context, filter access.EscrowFilter) ([]*access.EscrowRequest, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_requests WHERE 1=1`
	args := []interface{}{}

	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		query += ` AND requester_id = $` + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.TrusteeID != "" {
		args = append(args, filter.TrusteeID)
		query += ` AND trustee_ids @> to_jsonb(ARRAY[$` + itoa(len(args)) + `::text])`
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
		return nil, access.NewInternal("failed to list escrow requests", err)
	}
	defer rows.Close()

	var result []*access.EscrowRequest
	for rows.Next() {
		request, err := scanEscrowRow(rows)
		if err != nil {
			return nil, access.NewInternal("failed to scan escrow row", err)
		}
		result = append(result, request)
	}
	if err := rows.Err(); err != nil {
		return nil, access.NewInternal("failed to iterate escrow rows", err)
	}
	return result, nil
}

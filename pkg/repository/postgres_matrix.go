package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// PostgresMatrixRepository persists access control matrices in PostgreSQL.
// The rule set is stored as a single JSONB document and always written
// whole, guarded by the version column, so a reader never observes a
// partially updated matrix.
type PostgresMatrixRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresMatrixRepository creates a new PostgreSQL matrix repository
func NewPostgresMatrixRepository(db *sql.DB, log *logger.Logger) *PostgresMatrixRepository {
	return &PostgresMatrixRepository{db: db, logger: log}
}

// Create inserts a new matrix
func (r *PostgresMatrixRepository) Create(ctx context.Context, matrix *access.AccessControlMatrix) error {
	rulesJSON, err := json.Marshal(matrix.Rules)
	if err != nil {
		return access.NewInternal("failed to marshal rules", err)
	}

	query := `
		INSERT INTO access_matrices (id, owner_id, name, version, rules, next_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		matrix.ID,
		matrix.OwnerID,
		matrix.Name,
		matrix.Version,
		rulesJSON,
		matrix.NextSeq,
		matrix.CreatedAt,
		matrix.UpdatedAt,
	)
	if err != nil {
		return access.NewInternal("failed to create matrix", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"matrix_id": matrix.ID,
		"owner_id":  matrix.OwnerID,
	}).Info("Created access control matrix")
	return nil
}

// GetByID retrieves a matrix by id
func (r *PostgresMatrixRepository) GetByID(ctx context.Context, matrixID string) (*access.AccessControlMatrix, error) {
	query := `
		SELECT id, owner_id, name, version, rules, next_seq, created_at, updated_at
		FROM access_matrices
		WHERE id = $1`

	return r.scanMatrix(r.db.QueryRowContext(ctx, query, matrixID), matrixID)
}

func (r *PostgresMatrixRepository) scanMatrix(row *sql.Row, matrixID string) (*access.AccessControlMatrix, error) {
	var matrix access.AccessControlMatrix
	var rulesJSON []byte

	err := row.Scan(
		&matrix.ID,
		&matrix.OwnerID,
		&matrix.Name,
		&matrix.Version,
		&rulesJSON,
		&matrix.NextSeq,
		&matrix.CreatedAt,
		&matrix.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, access.NewNotFound("matrix", matrixID)
		}
		return nil, access.NewInternal("failed to load matrix", err)
	}

	if err := json.Unmarshal(rulesJSON, &matrix.Rules); err != nil {
		return nil, access.NewInternal("failed to unmarshal rules", err)
	}
	return &matrix, nil
}

// Update writes the matrix whole, guarded by the expected version
func (r *PostgresMatrixRepository) Update(ctx context.Context, matrix *access.AccessControlMatrix, expectedVersion int64) error {
	rulesJSON, err := json.Marshal(matrix.Rules)
	if err != nil {
		return access.NewInternal("failed to marshal rules", err)
	}

	query := `
		UPDATE access_matrices
		SET name = $1, version = $2, rules = $3, next_seq = $4, updated_at = $5
		WHERE id = $6 AND version = $7`

	result, err := r.db.ExecContext(ctx, query,
		matrix.Name,
		matrix.Version,
		rulesJSON,
		matrix.NextSeq,
		matrix.UpdatedAt,
		matrix.ID,
		expectedVersion,
	)
	if err != nil {
		return access.NewInternal("failed to update matrix", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return access.NewInternal("failed to read update result", err)
	}
	if affected == 0 {
		// Either the matrix is gone or someone else bumped the version first
		if _, getErr := r.GetByID(ctx, matrix.ID); getErr != nil {
			return getErr
		}
		return access.NewConflict("matrix was modified concurrently").
			WithDetail("expected_version", expectedVersion)
	}
	return nil
}

// Delete removes a matrix
func (r *PostgresMatrixRepository) Delete(ctx context.Context, matrixID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM access_matrices WHERE id = $1`, matrixID)
	if err != nil {
		return access.NewInternal("failed to delete matrix", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return access.NewInternal("failed to read delete result", err)
	}
	if affected == 0 {
		return access.NewNotFound("matrix", matrixID)
	}

	r.logger.WithFields(map[string]interface{}{"matrix_id": matrixID}).Info("Deleted access control matrix")
	return nil
}

// ListByOwner returns all matrices owned by the given owner, oldest first
func (r *PostgresMatrixRepository) ListByOwner(ctx context.Context, ownerID string) ([]*access.AccessControlMatrix, error) {
	query := `
		SELECT id, owner_id, name, version, rules, next_seq, created_at, updated_at
		FROM access_matrices
		WHERE owner_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, access.NewInternal("failed to list matrices", err)
	}
	defer rows.Close()

	var result []*access.AccessControlMatrix
	for rows.Next() {
		var matrix access.AccessControlMatrix
		var rulesJSON []byte
		if err := rows.Scan(
			&matrix.ID,
			&matrix.OwnerID,
			&matrix.Name,
			&matrix.Version,
			&rulesJSON,
			&matrix.NextSeq,
			&matrix.CreatedAt,
			&matrix.UpdatedAt,
		); err != nil {
			return nil, access.NewInternal("failed to scan matrix row", err)
		}
		if err := json.Unmarshal(rulesJSON, &matrix.Rules); err != nil {
			return nil, access.NewInternal(fmt.Sprintf("failed to unmarshal rules for matrix %s", matrix.ID), err)
		}
		result = append(result, &matrix)
	}
	if err := rows.Err(); err != nil {
		return nil, access.NewInternal("failed to iterate matrix rows", err)
	}
	return result, nil
}

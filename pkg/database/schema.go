package database

import (
	"fmt"
)

// InitializeSchema creates the engine's tables if they do not exist. Rule
// sets, trustee decisions, and collected shares are stored as JSONB: they
// are read and written whole, matching the atomic-swap semantics the engine
// requires.
func (db *DB) InitializeSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS access_matrices (
			id UUID PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			rules JSONB NOT NULL DEFAULT '[]',
			next_seq BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_matrices_owner ON access_matrices(owner_id)`,

		`CREATE TABLE IF NOT EXISTS access_grants (
			id UUID PRIMARY KEY,
			matrix_id UUID NOT NULL,
			matrix_version BIGINT NOT NULL,
			rule_id UUID NOT NULL,
			beneficiary_id VARCHAR(255) NOT NULL,
			granted_by VARCHAR(255) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			max_usage INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			revoked_by VARCHAR(255),
			revoked_at TIMESTAMP WITH TIME ZONE,
			revoke_reason TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_grants_beneficiary ON access_grants(beneficiary_id)`,
		`CREATE INDEX IF NOT EXISTS idx_access_grants_matrix ON access_grants(matrix_id)`,

		`CREATE TABLE IF NOT EXISTS emergency_tokens (
			id UUID PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			contact_id VARCHAR(255) NOT NULL,
			file_ids JSONB NOT NULL DEFAULT '[]',
			access_level VARCHAR(32) NOT NULL,
			secret_hash BYTEA NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			max_uses INTEGER NOT NULL,
			current_uses INTEGER NOT NULL DEFAULT 0,
			ip_restrictions JSONB,
			metadata JSONB,
			activated_at TIMESTAMP WITH TIME ZONE,
			refreshed_at TIMESTAMP WITH TIME ZONE,
			revoked_at TIMESTAMP WITH TIME ZONE,
			revoked_reason TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_tokens_owner ON emergency_tokens(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_emergency_tokens_contact ON emergency_tokens(contact_id)`,

		`CREATE TABLE IF NOT EXISTS escrow_requests (
			id UUID PRIMARY KEY,
			requester_id VARCHAR(255) NOT NULL,
			requester_email VARCHAR(255) NOT NULL,
			key_ids JSONB NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL DEFAULT '',
			time_delay_hours INTEGER NOT NULL,
			threshold INTEGER NOT NULL,
			trustee_ids JSONB NOT NULL DEFAULT '[]',
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			trustee_decisions JSONB NOT NULL DEFAULT '{}',
			collected_shares JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escrow_requests_requester ON escrow_requests(requester_id)`,
		`CREATE INDEX IF NOT EXISTS idx_escrow_requests_status ON escrow_requests(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	db.logger.Info("Database schema initialized successfully")
	return nil
}

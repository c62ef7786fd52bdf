package repository

import (
	"context"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// MatrixRepositoryInterface defines the interface for access control matrix
// operations. Update is an atomic whole-matrix swap guarded by an expected
// version so evaluators never observe a partially updated rule set.
type MatrixRepositoryInterface interface {
	Create(ctx context.Context, matrix *access.AccessControlMatrix) error
	GetByID(ctx context.Context, matrixID string) (*access.AccessControlMatrix, error)
	Update(ctx context.Context, matrix *access.AccessControlMatrix, expectedVersion int64) error
	Delete(ctx context.Context, matrixID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*access.AccessControlMatrix, error)
}

// GrantRepositoryInterface defines the interface for temporary access grant
// operations. Consume performs the atomic check-and-increment that keeps
// usage counts from ever exceeding the cap under concurrent load; it alone
// writes the counter, and Update leaves it untouched.
type GrantRepositoryInterface interface {
	Create(ctx context.Context, grant *access.TemporaryAccessGrant) error
	GetByID(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error)
	Update(ctx context.Context, grant *access.TemporaryAccessGrant) error
	Consume(ctx context.Context, grantID string, now time.Time) (*access.TemporaryAccessGrant, error)
	List(ctx context.Context, filter access.GrantFilter) ([]*access.TemporaryAccessGrant, error)
}

// TokenRepositoryInterface defines the interface for emergency token
// operations. Consume mirrors the grant contract: concurrent consumption
// never overshoots MaxUses, and Update never writes the use counter.
type TokenRepositoryInterface interface {
	Create(ctx context.Context, token *access.EmergencyToken) error
	GetByID(ctx context.Context, tokenID string) (*access.EmergencyToken, error)
	Update(ctx context.Context, token *access.EmergencyToken) error
	Consume(ctx context.Context, tokenID string, now time.Time) (*access.EmergencyToken, error)
	List(ctx context.Context, filter access.TokenFilter) ([]*access.EmergencyToken, error)
}

// EscrowRepositoryInterface defines the interface for escrow request
// operations. Mutate serializes per request id: the passed function runs
// under the request's exclusive lock so a quorum check and the transition it
// justifies are atomic together.
type EscrowRepositoryInterface interface {
	Create(ctx context.Context, request *access.EscrowRequest) error
	GetByID(ctx context.Context, requestID string) (*access.EscrowRequest, error)
	Mutate(ctx context.Context, requestID string, fn func(*access.EscrowRequest) error) (*access.EscrowRequest, error)
	List(ctx context.Context, filter access.EscrowFilter) ([]*access.EscrowRequest, error)
}

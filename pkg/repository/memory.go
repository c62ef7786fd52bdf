package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// In-memory repositories back the engine in tests and single-process
// deployments. All state transitions happen under the store mutex, which
// gives the per-entity serialization the engine requires.

// MemoryMatrixRepository is an in-memory MatrixRepositoryInterface
type MemoryMatrixRepository struct {
	mu       sync.RWMutex
	matrices map[string]*access.AccessControlMatrix
}

// NewMemoryMatrixRepository creates an empty in-memory matrix repository
func NewMemoryMatrixRepository() *MemoryMatrixRepository {
	return &MemoryMatrixRepository{
		matrices: make(map[string]*access.AccessControlMatrix),
	}
}

// Create stores a new matrix
func (r *MemoryMatrixRepository) Create(ctx context.Context, matrix *access.AccessControlMatrix) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.matrices[matrix.ID]; exists {
		return access.NewConflict("matrix already exists: " + matrix.ID)
	}
	r.matrices[matrix.ID] = matrix.Clone()
	return nil
}

// GetByID returns a snapshot of the matrix with the given id
func (r *MemoryMatrixRepository) GetByID(ctx context.Context, matrixID string) (*access.AccessControlMatrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matrix, exists := r.matrices[matrixID]
	if !exists {
		return nil, access.NewNotFound("matrix", matrixID)
	}
	return matrix.Clone(), nil
}

// Update swaps the stored matrix for the given one if the stored version
// still matches expectedVersion. Readers see the old or new matrix, never a
// mix.
func (r *MemoryMatrixRepository) Update(ctx context.Context, matrix *access.AccessControlMatrix, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.matrices[matrix.ID]
	if !exists {
		return access.NewNotFound("matrix", matrix.ID)
	}
	if current.Version != expectedVersion {
		return access.NewConflict("matrix was modified concurrently").
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", current.Version)
	}
	r.matrices[matrix.ID] = matrix.Clone()
	return nil
}

// Delete removes the matrix with the given id
func (r *MemoryMatrixRepository) Delete(ctx context.Context, matrixID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.matrices[matrixID]; !exists {
		return access.NewNotFound("matrix", matrixID)
	}
	delete(r.matrices, matrixID)
	return nil
}

// ListByOwner returns all matrices owned by the given owner, oldest first
func (r *MemoryMatrixRepository) ListByOwner(ctx context.Context, ownerID string) ([]*access.AccessControlMatrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*access.AccessControlMatrix
	for _, matrix := range r.matrices {
		if matrix.OwnerID == ownerID {
			result = append(result, matrix.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// MemoryGrantRepository is an in-memory GrantRepositoryInterface
type MemoryGrantRepository struct {
	mu     sync.RWMutex
	grants map[string]*access.TemporaryAccessGrant
}

// NewMemoryGrantRepository creates an empty in-memory grant repository
func NewMemoryGrantRepository() *MemoryGrantRepository {
	return &MemoryGrantRepository{
		grants: make(map[string]*access.TemporaryAccessGrant),
	}
}

// Create stores a new grant
func (r *MemoryGrantRepository) Create(ctx context.Context, grant *access.TemporaryAccessGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.grants[grant.ID]; exists {
		return access.NewConflict("grant already exists: " + grant.ID)
	}
	copied := *grant
	r.grants[grant.ID] = &copied
	return nil
}

// GetByID returns a snapshot of the grant with the given id
func (r *MemoryGrantRepository) GetByID(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grant, exists := r.grants[grantID]
	if !exists {
		return nil, access.NewNotFound("grant", grantID)
	}
	copied := *grant
	return &copied, nil
}

// Update replaces the stored grant. The usage counter is owned by Consume
// and is never written here: the caller's snapshot may be stale, and writing
// it back would resurrect consumed uses.
func (r *MemoryGrantRepository) Update(ctx context.Context, grant *access.TemporaryAccessGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.grants[grant.ID]
	if !exists {
		return access.NewNotFound("grant", grant.ID)
	}
	copied := *grant
	copied.UsageCount = current.UsageCount
	r.grants[grant.ID] = &copied
	return nil
}

// Consume atomically verifies the grant is consumable and increments its
// usage counter. The whole check-and-increment runs under the store lock so
// UsageCount never exceeds MaxUsage.
func (r *MemoryGrantRepository) Consume(ctx context.Context, grantID string, now time.Time) (*access.TemporaryAccessGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grant, exists := r.grants[grantID]
	if !exists {
		return nil, access.NewNotFound("grant", grantID)
	}

	switch grant.Status(now) {
	case access.GrantStatusRevoked:
		return nil, access.NewRevoked("grant has been revoked: " + grantID)
	case access.GrantStatusExpired:
		return nil, access.NewExpired("grant has expired: " + grantID)
	case access.GrantStatusExhausted:
		return nil, access.NewExhausted("grant usage limit reached: " + grantID)
	}

	grant.UsageCount++
	copied := *grant
	return &copied, nil
}

// List returns grants matching the filter, newest first
func (r *MemoryGrantRepository) List(ctx context.Context, filter access.GrantFilter) ([]*access.TemporaryAccessGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var result []*access.TemporaryAccessGrant
	for _, grant := range r.grants {
		if filter.MatrixID != "" && grant.MatrixID != filter.MatrixID {
			continue
		}
		if filter.BeneficiaryID != "" && grant.BeneficiaryID != filter.BeneficiaryID {
			continue
		}
		if filter.ActiveOnly && !grant.IsActive(now) {
			continue
		}
		copied := *grant
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginateGrants(result, filter.Offset, filter.Limit), nil
}

func paginateGrants(grants []*access.TemporaryAccessGrant, offset, limit int) []*access.TemporaryAccessGrant {
	if offset > 0 {
		if offset >= len(grants) {
			return nil
		}
		grants = grants[offset:]
	}
	if limit > 0 && limit < len(grants) {
		grants = grants[:limit]
	}
	return grants
}

// MemoryTokenRepository is an in-memory TokenRepositoryInterface
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*access.EmergencyToken
}

// NewMemoryTokenRepository creates an empty in-memory token repository
func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{
		tokens: make(map[string]*access.EmergencyToken),
	}
}

// Create stores a new token
func (r *MemoryTokenRepository) Create(ctx context.Context, token *access.EmergencyToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.ID]; exists {
		return access.NewConflict("token already exists: " + token.ID)
	}
	r.tokens[token.ID] = copyToken(token)
	return nil
}

// GetByID returns a snapshot of the token with the given id
func (r *MemoryTokenRepository) GetByID(ctx context.Context, tokenID string) (*access.EmergencyToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, exists := r.tokens[tokenID]
	if !exists {
		return nil, access.NewNotFound("token", tokenID)
	}
	return copyToken(token), nil
}

// Update replaces the stored token. The use counter is owned by Consume and
// is never written here: a refresh or activation working from a snapshot
// must not erase uses consumed in the meantime.
func (r *MemoryTokenRepository) Update(ctx context.Context, token *access.EmergencyToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.tokens[token.ID]
	if !exists {
		return access.NewNotFound("token", token.ID)
	}
	copied := copyToken(token)
	copied.CurrentUses = current.CurrentUses
	r.tokens[token.ID] = copied
	return nil
}

// Consume atomically verifies the token is consumable and increments its
// use counter under the store lock, so CurrentUses never exceeds MaxUses.
func (r *MemoryTokenRepository) Consume(ctx context.Context, tokenID string, now time.Time) (*access.EmergencyToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.tokens[tokenID]
	if !exists {
		return nil, access.NewNotFound("token", tokenID)
	}

	if token.IsRevoked() {
		return nil, access.NewRevoked("token has been revoked: " + tokenID)
	}
	if token.IsExpired(now) {
		return nil, access.NewExpired("token has expired: " + tokenID)
	}
	if token.IsUsedUp() {
		return nil, access.NewExhausted("token usage limit reached: " + tokenID)
	}
	if !token.IsActivated() {
		return nil, access.NewPreconditionFailed("token has not been activated: " + tokenID)
	}

	token.CurrentUses++
	return copyToken(token), nil
}

// List returns tokens matching the filter, newest first
func (r *MemoryTokenRepository) List(ctx context.Context, filter access.TokenFilter) ([]*access.EmergencyToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var result []*access.EmergencyToken
	for _, token := range r.tokens {
		if filter.OwnerID != "" && token.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ContactID != "" && token.ContactID != filter.ContactID {
			continue
		}
		if filter.ActiveOnly && !token.IsActive(now) {
			continue
		}
		result = append(result, copyToken(token))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func copyToken(token *access.EmergencyToken) *access.EmergencyToken {
	copied := *token
	copied.FileIDs = append([]string(nil), token.FileIDs...)
	copied.IPRestrictions = append([]string(nil), token.IPRestrictions...)
	copied.SecretHash = append([]byte(nil), token.SecretHash...)
	if token.Metadata != nil {
		copied.Metadata = make(map[string]string, len(token.Metadata))
		for k, v := range token.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// MemoryEscrowRepository is an in-memory EscrowRepositoryInterface
type MemoryEscrowRepository struct {
	mu       sync.RWMutex
	requests map[string]*access.EscrowRequest
}

// NewMemoryEscrowRepository creates an empty in-memory escrow repository
func NewMemoryEscrowRepository() *MemoryEscrowRepository {
	return &MemoryEscrowRepository{
		requests: make(map[string]*access.EscrowRequest),
	}
}

// Create stores a new escrow request
func (r *MemoryEscrowRepository) Create(ctx context.Context, request *access.EscrowRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[request.ID]; exists {
		return access.NewConflict("escrow request already exists: " + request.ID)
	}
	r.requests[request.ID] = copyEscrowRequest(request)
	return nil
}

// GetByID returns a snapshot of the request with the given id
func (r *MemoryEscrowRepository) GetByID(ctx context.Context, requestID string) (*access.EscrowRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, exists := r.requests[requestID]
	if !exists {
		return nil, access.NewNotFound("escrow request", requestID)
	}
	return copyEscrowRequest(request), nil
}

// Mutate runs fn on the stored request under the store lock. If fn returns
// an error the stored state is unchanged; otherwise the mutated copy is
// swapped in atomically. Two trustees mutating concurrently serialize here.
func (r *MemoryEscrowRepository) Mutate(ctx context.Context, requestID string, fn func(*access.EscrowRequest) error) (*access.EscrowRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, exists := r.requests[requestID]
	if !exists {
		return nil, access.NewNotFound("escrow request", requestID)
	}

	working := copyEscrowRequest(request)
	if err := fn(working); err != nil {
		return nil, err
	}
	r.requests[requestID] = working
	return copyEscrowRequest(working), nil
}

// List returns requests matching the filter, newest first
func (r *MemoryEscrowRepository) List(ctx context.Context, filter access.EscrowFilter) ([]*access.EscrowRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*access.EscrowRequest
	for _, request := range r.requests {
		if filter.RequesterID != "" && request.RequesterID != filter.RequesterID {
			continue
		}
		if filter.TrusteeID != "" && !request.NamesTrustee(filter.TrusteeID) {
			continue
		}
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		result = append(result, copyEscrowRequest(request))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func copyEscrowRequest(request *access.EscrowRequest) *access.EscrowRequest {
	copied := *request
	copied.KeyIDs = append([]string(nil), request.KeyIDs...)
	copied.TrusteeIDs = append([]string(nil), request.TrusteeIDs...)
	copied.TrusteeDecisions = make(map[string]access.TrusteeDecision, len(request.TrusteeDecisions))
	for k, v := range request.TrusteeDecisions {
		copied.TrusteeDecisions[k] = v
	}
	copied.CollectedShares = make(map[string]string, len(request.CollectedShares))
	for k, v := range request.CollectedShares {
		copied.CollectedShares[k] = v
	}
	return &copied
}

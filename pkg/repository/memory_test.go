package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

func storedMatrix() *access.AccessControlMatrix {
	return &access.AccessControlMatrix{
		ID:      "matrix-1",
		OwnerID: "owner-1",
		Name:    "estate plan",
		Version: 1,
		NextSeq: 1,
	}
}

func TestMatrixUpdateRejectsStaleVersion(t *testing.T) {
	repo := NewMemoryMatrixRepository()
	require.NoError(t, repo.Create(context.Background(), storedMatrix()))

	fresh, err := repo.GetByID(context.Background(), "matrix-1")
	require.NoError(t, err)
	fresh.Version = 2
	require.NoError(t, repo.Update(context.Background(), fresh, 1))

	stale, err := repo.GetByID(context.Background(), "matrix-1")
	require.NoError(t, err)
	stale.Version = 3
	err = repo.Update(context.Background(), stale, 1)
	assert.True(t, access.IsType(err, access.ErrorTypeConflict))
}

func TestMatrixSnapshotsAreIsolated(t *testing.T) {
	repo := NewMemoryMatrixRepository()
	matrix := storedMatrix()
	matrix.Rules = []access.Rule{{ID: "r1", Name: "original"}}
	require.NoError(t, repo.Create(context.Background(), matrix))

	snapshot, err := repo.GetByID(context.Background(), "matrix-1")
	require.NoError(t, err)
	snapshot.Rules[0].Name = "mutated"

	stored, err := repo.GetByID(context.Background(), "matrix-1")
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Rules[0].Name)
}

func storedGrant(maxUsage int) *access.TemporaryAccessGrant {
	return &access.TemporaryAccessGrant{
		ID:            "grant-1",
		MatrixID:      "matrix-1",
		RuleID:        "rule-1",
		BeneficiaryID: "ben-1",
		GrantedBy:     "owner-1",
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxUsage:      maxUsage,
		CreatedAt:     time.Now(),
	}
}

func TestGrantConsumeUnderConcurrencyHoldsCap(t *testing.T) {
	repo := NewMemoryGrantRepository()
	require.NoError(t, repo.Create(context.Background(), storedGrant(25)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(context.Background(), "grant-1", time.Now()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, succeeded)

	stored, err := repo.GetByID(context.Background(), "grant-1")
	require.NoError(t, err)
	assert.Equal(t, 25, stored.UsageCount)
}

func TestGrantConsumeClassifiesTerminalStates(t *testing.T) {
	repo := NewMemoryGrantRepository()
	now := time.Now()

	revoked := storedGrant(5)
	revoked.ID = "grant-revoked"
	revoked.Revoked = true
	require.NoError(t, repo.Create(context.Background(), revoked))

	expired := storedGrant(5)
	expired.ID = "grant-expired"
	expired.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.Create(context.Background(), expired))

	exhausted := storedGrant(1)
	exhausted.ID = "grant-exhausted"
	exhausted.UsageCount = 1
	require.NoError(t, repo.Create(context.Background(), exhausted))

	_, err := repo.Consume(context.Background(), "grant-revoked", now)
	assert.True(t, access.IsType(err, access.ErrorTypeRevoked))

	_, err = repo.Consume(context.Background(), "grant-expired", now)
	assert.True(t, access.IsType(err, access.ErrorTypeExpired))

	_, err = repo.Consume(context.Background(), "grant-exhausted", now)
	assert.True(t, access.IsType(err, access.ErrorTypeExhausted))

	_, err = repo.Consume(context.Background(), "grant-missing", now)
	assert.True(t, access.IsType(err, access.ErrorTypeNotFound))
}

func TestGrantListFiltersAndPaginates(t *testing.T) {
	repo := NewMemoryGrantRepository()
	base := time.Now()
	for i, id := range []string{"g1", "g2", "g3"} {
		grant := storedGrant(0)
		grant.ID = id
		grant.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(context.Background(), grant))
	}
	other := storedGrant(0)
	other.ID = "g-other"
	other.BeneficiaryID = "ben-2"
	require.NoError(t, repo.Create(context.Background(), other))

	list, err := repo.List(context.Background(), access.GrantFilter{BeneficiaryID: "ben-1"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first
	assert.Equal(t, "g3", list[0].ID)

	page, err := repo.List(context.Background(), access.GrantFilter{BeneficiaryID: "ben-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "g2", page[0].ID)
}

func TestGrantUpdateNeverWritesUsageCounter(t *testing.T) {
	repo := NewMemoryGrantRepository()
	require.NoError(t, repo.Create(context.Background(), storedGrant(1)))

	snapshot, err := repo.GetByID(context.Background(), "grant-1")
	require.NoError(t, err)

	// A consume lands after the snapshot was taken
	_, err = repo.Consume(context.Background(), "grant-1", time.Now())
	require.NoError(t, err)

	snapshot.ExpiresAt = snapshot.ExpiresAt.Add(time.Hour)
	require.NoError(t, repo.Update(context.Background(), snapshot))

	_, err = repo.Consume(context.Background(), "grant-1", time.Now())
	assert.True(t, access.IsType(err, access.ErrorTypeExhausted))

	stored, err := repo.GetByID(context.Background(), "grant-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
}

func storedToken() *access.EmergencyToken {
	return &access.EmergencyToken{
		ID:          "token-1",
		OwnerID:     "owner-1",
		ContactID:   "contact-1",
		AccessLevel: access.AccessLevelView,
		ExpiresAt:   time.Now().Add(time.Hour),
		MaxUses:     3,
		CreatedAt:   time.Now(),
	}
}

func TestTokenConsumeRequiresActivation(t *testing.T) {
	repo := NewMemoryTokenRepository()
	require.NoError(t, repo.Create(context.Background(), storedToken()))

	_, err := repo.Consume(context.Background(), "token-1", time.Now())
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))

	activated, err := repo.GetByID(context.Background(), "token-1")
	require.NoError(t, err)
	now := time.Now()
	activated.ActivatedAt = &now
	require.NoError(t, repo.Update(context.Background(), activated))

	consumed, err := repo.Consume(context.Background(), "token-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, consumed.CurrentUses)
}

func TestTokenConsumeUnderConcurrencyHoldsCap(t *testing.T) {
	repo := NewMemoryTokenRepository()
	token := storedToken()
	token.MaxUses = 7
	now := time.Now()
	token.ActivatedAt = &now
	require.NoError(t, repo.Create(context.Background(), token))

	var wg sync.WaitGroup
	results := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Consume(context.Background(), "token-1", time.Now())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 7, succeeded)

	stored, err := repo.GetByID(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.CurrentUses)
}

func TestTokenUpdateNeverWritesUseCounter(t *testing.T) {
	repo := NewMemoryTokenRepository()
	token := storedToken()
	token.MaxUses = 1
	now := time.Now()
	token.ActivatedAt = &now
	require.NoError(t, repo.Create(context.Background(), token))

	// Refresh-style write: snapshot, then a consume lands, then the stale
	// snapshot is written back
	snapshot, err := repo.GetByID(context.Background(), "token-1")
	require.NoError(t, err)

	_, err = repo.Consume(context.Background(), "token-1", now)
	require.NoError(t, err)

	snapshot.SecretHash = []byte("rotated")
	snapshot.ExpiresAt = snapshot.ExpiresAt.Add(24 * time.Hour)
	require.NoError(t, repo.Update(context.Background(), snapshot))

	// The burned use must not come back
	_, err = repo.Consume(context.Background(), "token-1", now)
	assert.True(t, access.IsType(err, access.ErrorTypeExhausted))

	stored, err := repo.GetByID(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentUses)
	assert.Equal(t, []byte("rotated"), stored.SecretHash)
}

func TestEscrowMutateRollsBackOnError(t *testing.T) {
	repo := NewMemoryEscrowRepository()
	request := &access.EscrowRequest{
		ID:               "req-1",
		RequesterID:      "heir-1",
		KeyIDs:           []string{"key-1"},
		Threshold:        2,
		TrusteeIDs:       []string{"t1", "t2", "t3"},
		Status:           access.EscrowStatusPending,
		TrusteeDecisions: map[string]access.TrusteeDecision{},
		CollectedShares:  map[string]string{},
		CreatedAt:        time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), request))

	_, err := repo.Mutate(context.Background(), "req-1", func(r *access.EscrowRequest) error {
		r.Status = access.EscrowStatusRecovered
		r.CollectedShares["t1"] = "partial"
		return access.NewForbidden("nope")
	})
	require.Error(t, err)

	stored, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusPending, stored.Status)
	assert.Empty(t, stored.CollectedShares)
}

func TestEscrowMutateSerializesConcurrentWriters(t *testing.T) {
	repo := NewMemoryEscrowRepository()
	request := &access.EscrowRequest{
		ID:               "req-1",
		RequesterID:      "heir-1",
		KeyIDs:           []string{"key-1"},
		Threshold:        3,
		TrusteeIDs:       []string{"t1", "t2", "t3"},
		Status:           access.EscrowStatusPending,
		TrusteeDecisions: map[string]access.TrusteeDecision{},
		CollectedShares:  map[string]string{},
		CreatedAt:        time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), request))

	var wg sync.WaitGroup
	trustees := []string{"t1", "t2", "t3"}
	for _, trustee := range trustees {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repo.Mutate(context.Background(), "req-1", func(r *access.EscrowRequest) error {
				r.TrusteeDecisions[id] = access.TrusteeDecision{
					TrusteeID: id,
					Vote:      access.VoteApproved,
					DecidedAt: time.Now(),
				}
				r.CollectedShares[id] = "share-" + id
				return nil
			})
			assert.NoError(t, err)
		}(trustee)
	}
	wg.Wait()

	stored, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Len(t, stored.TrusteeDecisions, 3)
	assert.Len(t, stored.CollectedShares, 3)
}

package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/internal/directory"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

type escrowFixture struct {
	service *Service
	repo    *repository.MemoryEscrowRepository
	dir     *directory.Directory
}

// newEscrowFixture registers key-1 with a 2-of-3 trustee policy
func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()

	dir := directory.New()
	dir.SetEscrowPolicy(access.EscrowPolicy{
		KeyID:      "key-1",
		Threshold:  2,
		TrusteeIDs: []string{"t1", "t2", "t3"},
	})

	repo := repository.NewMemoryEscrowRepository()
	service := NewService(repo, dir, nil, nil, config.EscrowConfig{
		DefaultTimeDelayHours: 24,
		MaxTimeDelayHours:     720,
		RequestTTLDays:        30,
	}, logger.New("error"))

	return &escrowFixture{service: service, repo: repo, dir: dir}
}

func recoveryInput() RecoveryInput {
	return RecoveryInput{
		RequesterID:    "heir-1",
		RequesterEmail: "heir@example.test",
		KeyIDs:         []string{"key-1"},
		Reason:         "owner deceased",
	}
}

// backdate shifts a request's creation time so its delay window has elapsed
func backdate(t *testing.T, repo *repository.MemoryEscrowRepository, requestID string, d time.Duration) {
	t.Helper()
	_, err := repo.Mutate(context.Background(), requestID, func(r *access.EscrowRequest) error {
		r.CreatedAt = r.CreatedAt.Add(-d)
		return nil
	})
	require.NoError(t, err)
}

func TestRequestKeyRecoveryAdoptsPolicy(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	assert.Equal(t, access.EscrowStatusPending, request.Status)
	assert.Equal(t, 2, request.Threshold)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, request.TrusteeIDs)
	assert.Equal(t, 24, request.TimeDelayHours)
}

func TestRequestKeyRecoveryFailsClosedWithoutPolicy(t *testing.T) {
	f := newEscrowFixture(t)

	input := recoveryInput()
	input.KeyIDs = []string{"key-unprotected"}

	_, err := f.service.RequestKeyRecovery(context.Background(), input)
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))
}

func TestRequestKeyRecoveryValidatesInput(t *testing.T) {
	f := newEscrowFixture(t)

	cases := []struct {
		name   string
		mutate func(*RecoveryInput)
	}{
		{"missing requester", func(in *RecoveryInput) { in.RequesterID = "" }},
		{"no keys", func(in *RecoveryInput) { in.KeyIDs = nil }},
		{"missing reason", func(in *RecoveryInput) { in.Reason = "" }},
		{"delay beyond maximum", func(in *RecoveryInput) { in.TimeDelayHours = 1000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := recoveryInput()
			tc.mutate(&input)
			_, err := f.service.RequestKeyRecovery(context.Background(), input)
			assert.True(t, access.IsType(err, access.ErrorTypeInvalidInput))
		})
	}
}

func TestOneApprovalOneRejectionStaysPending(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteApproved, "")
	require.NoError(t, err)
	_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, "t1", "share-t1")
	require.NoError(t, err)

	// One rejection of three trustees: quorum of 2 is still reachable
	updated, err := f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t2", access.VoteRejected, "suspicious")
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusPending, updated.Status)
}

func TestQuorumImpossibleRejectsRequest(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteRejected, "")
	require.NoError(t, err)

	// Second rejection leaves only one possible approver against threshold 2
	updated, err := f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t2", access.VoteRejected, "")
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusRejected, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)

	// Terminal: no further decisions accepted
	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t3", access.VoteApproved, "")
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))
}

func TestApprovalWithoutShareDoesNotCountTowardQuorum(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)
	backdate(t, f.repo, request.ID, 25*time.Hour)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteApproved, "")
	require.NoError(t, err)
	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t2", access.VoteApproved, "")
	require.NoError(t, err)

	status, err := f.service.GetRequestStatus(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ApprovedAndShared)
	assert.False(t, status.QuorumMet)

	_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, "t1", "share-t1")
	require.NoError(t, err)
	updated, err := f.service.ProvideTrusteeShare(context.Background(), request.ID, "t2", "share-t2")
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusRecovered, updated.Status)
}

func TestTimeDelayEnforcedEvenWithQuorum(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	for _, trustee := range []string{"t1", "t2"} {
		_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, trustee, access.VoteApproved, "")
		require.NoError(t, err)
		_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, trustee, "share-"+trustee)
		require.NoError(t, err)
	}

	// Threshold met, but the cooling-off window has not elapsed
	status, err := f.service.GetRequestStatus(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ApprovedAndShared)
	assert.False(t, status.DelayElapsed)
	assert.Equal(t, access.EscrowStatusPending, status.Request.Status)

	_, err = f.service.CompleteRecovery(context.Background(), request.ID)
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))

	backdate(t, f.repo, request.ID, 25*time.Hour)

	completed, err := f.service.CompleteRecovery(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusRecovered, completed.Status)
}

func TestRepeatedDecisionSupersedesEarlierOne(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteApproved, "")
	require.NoError(t, err)
	_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, "t1", "share-t1")
	require.NoError(t, err)

	updated, err := f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteRejected, "changed my mind")
	require.NoError(t, err)

	decision := updated.TrusteeDecisions["t1"]
	assert.Equal(t, access.VoteRejected, decision.Vote)
	require.NotNil(t, decision.Supersedes)
	assert.Equal(t, access.VoteApproved, decision.Supersedes.Vote)

	// The withdrawn approval no longer contributes a share
	assert.NotContains(t, updated.CollectedShares, "t1")
	assert.Equal(t, 0, updated.ApprovedAndShared())
}

func TestRejectingTrusteeCannotSubmitShare(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "t1", access.VoteRejected, "")
	require.NoError(t, err)

	_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, "t1", "share-t1")
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))
}

func TestUnnamedTrusteeIsRejected(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, "outsider", access.VoteApproved, "")
	assert.True(t, access.IsType(err, access.ErrorTypeForbidden))

	_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, "outsider", "share")
	assert.True(t, access.IsType(err, access.ErrorTypeForbidden))
}

func TestConcurrentDecisionsSerialize(t *testing.T) {
	f := newEscrowFixture(t)

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)
	backdate(t, f.repo, request.ID, 25*time.Hour)

	var wg sync.WaitGroup
	for _, trustee := range []string{"t1", "t2", "t3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.service.ProcessTrusteeDecision(context.Background(), request.ID, id, access.VoteApproved, ""); err != nil {
				return
			}
			f.service.ProvideTrusteeShare(context.Background(), request.ID, id, "share-"+id)
		}(trustee)
	}
	wg.Wait()

	stored, err := f.repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusRecovered, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestAuthorizeKeyReleaseRequiresCompletedRecovery(t *testing.T) {
	f := newEscrowFixture(t)

	err := f.service.AuthorizeKeyRelease(context.Background(), "key-1", "heir-1")
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))

	request, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)
	backdate(t, f.repo, request.ID, 25*time.Hour)

	for _, trustee := range []string{"t1", "t2"} {
		_, err = f.service.ProcessTrusteeDecision(context.Background(), request.ID, trustee, access.VoteApproved, "")
		require.NoError(t, err)
		_, err = f.service.ProvideTrusteeShare(context.Background(), request.ID, trustee, "share-"+trustee)
		require.NoError(t, err)
	}

	assert.NoError(t, f.service.AuthorizeKeyRelease(context.Background(), "key-1", "heir-1"))

	// A different recipient is still blocked
	err = f.service.AuthorizeKeyRelease(context.Background(), "key-1", "someone-else")
	assert.True(t, access.IsType(err, access.ErrorTypePreconditionFailed))
}

func TestExpireStaleRequests(t *testing.T) {
	f := newEscrowFixture(t)

	stale, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)
	backdate(t, f.repo, stale.ID, 31*24*time.Hour)

	fresh, err := f.service.RequestKeyRecovery(context.Background(), recoveryInput())
	require.NoError(t, err)

	expired, err := f.service.ExpireStaleRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	staleStored, err := f.repo.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusExpired, staleStored.Status)

	freshStored, err := f.repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, access.EscrowStatusPending, freshStored.Status)
}

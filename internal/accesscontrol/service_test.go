package accesscontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/internal/grants"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

type serviceFixture struct {
	service  *Service
	matrices *MatrixManager
	grants   *grants.Manager
	matrixID string
	ruleID   string
}

// newServiceFixture builds a matrix owned by owner-1 with one rule naming
// only ben-direct, so any other beneficiary must come through a grant.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := logger.New("error")
	matrixRepo := repository.NewMemoryMatrixRepository()
	grantRepo := repository.NewMemoryGrantRepository()

	matrixManager := NewMatrixManager(matrixRepo, nil, log)
	grantManager := grants.NewManager(grantRepo, matrixRepo, nil, log)
	evaluator := testEvaluator(nil)
	service := NewService(matrixRepo, grantManager, evaluator, nil, log)

	matrix, err := matrixManager.CreateMatrix(context.Background(), "owner-1", "estate plan")
	require.NoError(t, err)
	rule, err := matrixManager.AddRule(context.Background(), matrix.ID, "owner-1", directRule("", "ben-direct", 0))
	require.NoError(t, err)

	return &serviceFixture{
		service:  service,
		matrices: matrixManager,
		grants:   grantManager,
		matrixID: matrix.ID,
		ruleID:   rule.ID,
	}
}

func TestEvaluateAccessUsesStandingRules(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.EvaluateAccess(context.Background(), f.matrixID, evalRequest("ben-direct"))
	require.NoError(t, err)

	assert.Equal(t, access.DecisionAllowed, result.Decision)
	assert.Empty(t, result.ViaGrantID)
}

func TestEvaluateAccessFallsBackToGrantAndConsumesIt(t *testing.T) {
	f := newServiceFixture(t)

	grant, err := f.grants.CreateGrant(context.Background(), grants.CreateGrantInput{
		MatrixID:      f.matrixID,
		RuleID:        f.ruleID,
		BeneficiaryID: "ben-delegated",
		GrantedBy:     "owner-1",
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxUsage:      2,
	})
	require.NoError(t, err)

	result, err := f.service.EvaluateAccess(context.Background(), f.matrixID, evalRequest("ben-delegated"))
	require.NoError(t, err)

	assert.Equal(t, access.DecisionAllowed, result.Decision)
	assert.Equal(t, grant.ID, result.ViaGrantID)

	stored, err := f.grants.GetGrant(context.Background(), grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
}

func TestEvaluateAccessDeniesWithoutGrant(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.EvaluateAccess(context.Background(), f.matrixID, evalRequest("ben-stranger"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDenied, result.Decision)
}

func TestEvaluateAccessIgnoresExhaustedGrant(t *testing.T) {
	f := newServiceFixture(t)

	grant, err := f.grants.CreateGrant(context.Background(), grants.CreateGrantInput{
		MatrixID:      f.matrixID,
		RuleID:        f.ruleID,
		BeneficiaryID: "ben-delegated",
		GrantedBy:     "owner-1",
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxUsage:      1,
	})
	require.NoError(t, err)

	_, err = f.grants.Consume(context.Background(), grant.ID)
	require.NoError(t, err)

	result, err := f.service.EvaluateAccess(context.Background(), f.matrixID, evalRequest("ben-delegated"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDenied, result.Decision)
}

func TestEvaluateAccessGrantOnDeletedRuleDoesNotApply(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.grants.CreateGrant(context.Background(), grants.CreateGrantInput{
		MatrixID:      f.matrixID,
		RuleID:        f.ruleID,
		BeneficiaryID: "ben-delegated",
		GrantedBy:     "owner-1",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, f.matrices.DeleteRule(context.Background(), f.matrixID, "owner-1", f.ruleID))

	result, err := f.service.EvaluateAccess(context.Background(), f.matrixID, evalRequest("ben-delegated"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDenied, result.Decision)
}

func TestEvaluateAccessUnknownMatrix(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.EvaluateAccess(context.Background(), "missing", evalRequest("ben-direct"))
	assert.True(t, access.IsType(err, access.ErrorTypeNotFound))
}

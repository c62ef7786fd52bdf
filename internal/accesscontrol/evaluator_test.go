package accesscontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/internal/directory"
	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

func testEvaluator(dir *directory.Directory) *Evaluator {
	if dir == nil {
		dir = directory.New()
	}
	return NewEvaluator(dir, logger.New("error"))
}

func testMatrix(rules ...access.Rule) *access.AccessControlMatrix {
	for i := range rules {
		if rules[i].CreatedSeq == 0 {
			rules[i].CreatedSeq = int64(i + 1)
		}
	}
	return &access.AccessControlMatrix{
		ID:      "matrix-1",
		OwnerID: "owner-1",
		Name:    "estate plan",
		Version: int64(len(rules)) + 1,
		Rules:   rules,
		NextSeq: int64(len(rules)) + 1,
	}
}

func directRule(id, beneficiaryID string, priority int) access.Rule {
	return access.Rule{
		ID:   id,
		Name: "rule-" + id,
		Subjects: []access.Subject{
			{Kind: access.SubjectBeneficiary, Identifier: beneficiaryID},
		},
		Resources: []access.Resource{
			{Type: access.ResourceDocument},
		},
		Permissions: access.PermissionSet{Read: true, Download: true},
		Priority:    priority,
	}
}

func evalRequest(beneficiaryID string) *Request {
	return &Request{
		BeneficiaryID: beneficiaryID,
		ResourceType:  access.ResourceDocument,
		ResourceID:    "doc-1",
		Actions:       []access.Action{access.ActionRead},
		Context:       &access.EvaluationContext{Now: time.Now()},
	}
}

func TestEvaluateFailsClosedWithoutMatchingRule(t *testing.T) {
	evaluator := testEvaluator(nil)
	matrix := testMatrix(directRule("r1", "someone-else", 0))

	result, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)

	assert.Equal(t, access.DecisionDenied, result.Decision)
	assert.Empty(t, result.RuleID)
	assert.NotEmpty(t, result.Reason)
	assert.Equal(t, matrix.Version, result.MatrixVersion)
}

func TestEvaluateHighestPriorityRuleWinsOutright(t *testing.T) {
	evaluator := testEvaluator(nil)

	low := directRule("low", "ben-1", 1)
	high := directRule("high", "ben-1", 10)
	high.Permissions = access.PermissionSet{Read: true}
	matrix := testMatrix(low, high)

	result, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)

	assert.Equal(t, access.DecisionAllowed, result.Decision)
	assert.Equal(t, "high", result.RuleID)
	// Permissions come from the winning rule alone, never merged across rules
	assert.False(t, result.Permissions.Download)
}

func TestEvaluatePriorityTieBreaksByCreationOrder(t *testing.T) {
	evaluator := testEvaluator(nil)

	first := directRule("first", "ben-1", 5)
	first.CreatedSeq = 1
	second := directRule("second", "ben-1", 5)
	second.CreatedSeq = 2
	matrix := testMatrix(second, first)

	result, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)
	assert.Equal(t, "first", result.RuleID)
}

func TestEvaluateDeniesUnpermittedAction(t *testing.T) {
	evaluator := testEvaluator(nil)
	matrix := testMatrix(directRule("r1", "ben-1", 0))

	req := evalRequest("ben-1")
	req.Actions = []access.Action{access.ActionRead, access.ActionDelete}

	result, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)

	assert.Equal(t, access.DecisionDenied, result.Decision)
	assert.Equal(t, "r1", result.RuleID)
	assert.Contains(t, result.Reason, "delete")
}

func TestEvaluateGroupSubjectViaMembership(t *testing.T) {
	dir := directory.New()
	family := access.Subject{Kind: access.SubjectGroup, Identifier: "family"}
	dir.AddMembership(family, "ben-1")

	evaluator := testEvaluator(dir)

	rule := directRule("r1", "unused", 0)
	rule.Subjects = []access.Subject{family}
	matrix := testMatrix(rule)

	result, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionAllowed, result.Decision)

	stranger, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-2"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDenied, stranger.Decision)
}

func TestEvaluateTimeDelayPendingThenAllowed(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 0)
	rule.Conditions = []access.Condition{
		{Type: access.ConditionTimeDelay, TimeDelay: &access.TimeDelayParams{Hours: 24}},
	}
	matrix := testMatrix(rule)

	started := time.Now().Add(-2 * time.Hour)
	req := evalRequest("ben-1")
	req.Context.DelayStartedAt = &started

	pending, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDeniedPending, pending.Decision)
	assert.Equal(t, []access.ConditionType{access.ConditionTimeDelay}, pending.PendingConditions)

	// Same request once the window has elapsed
	req.Context.Now = started.Add(25 * time.Hour)
	allowed, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Equal(t, access.DecisionAllowed, allowed.Decision)
}

func TestEvaluateEmergencyTriggerPendingUntilActive(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 100)
	rule.Resources = []access.Resource{{Type: access.ResourceMedicalInfo}}
	rule.Conditions = []access.Condition{
		{Type: access.ConditionEmergencyTrigger, EmergencyTrigger: &access.EmergencyTriggerParams{TriggerTypes: []string{"medical"}}},
	}
	matrix := testMatrix(rule)

	req := evalRequest("ben-1")
	req.ResourceType = access.ResourceMedicalInfo

	// No trigger active yet: the emergency can still fire, so the decision
	// is pending rather than a hard deny
	pending, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDeniedPending, pending.Decision)
	assert.Equal(t, []access.ConditionType{access.ConditionEmergencyTrigger}, pending.PendingConditions)

	req = evalRequest("ben-1")
	req.ResourceType = access.ResourceMedicalInfo
	req.Context.ActiveTriggers = []string{"medical"}
	allowed, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Equal(t, access.DecisionAllowed, allowed.Decision)
}

func TestEvaluateLocationCondition(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 0)
	rule.Conditions = []access.Condition{
		{Type: access.ConditionLocationBased, LocationBased: &access.LocationBasedParams{
			AllowedCIDRs:     []string{"10.0.0.0/8"},
			AllowedCountries: []string{"DE"},
		}},
	}
	matrix := testMatrix(rule)

	cases := []struct {
		name     string
		ip       string
		country  string
		decision access.Decision
	}{
		{"inside CIDR", "10.1.2.3", "", access.DecisionAllowed},
		{"allowed country", "203.0.113.7", "DE", access.DecisionAllowed},
		{"outside both", "203.0.113.7", "US", access.DecisionDenied},
		{"no context", "", "", access.DecisionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := evalRequest("ben-1")
			req.Context.IPAddress = tc.ip
			req.Context.Country = tc.country

			result, err := evaluator.Evaluate(context.Background(), matrix, req)
			require.NoError(t, err)
			assert.Equal(t, tc.decision, result.Decision)
		})
	}
}

func TestEvaluateMFACondition(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 0)
	rule.Conditions = []access.Condition{
		{Type: access.ConditionMultiFactorAuth, MultiFactorAuth: &access.MultiFactorAuthParams{
			MaxAgeMinutes: 15,
			Methods:       []string{"totp"},
		}},
	}
	matrix := testMatrix(rule)

	now := time.Now()

	t.Run("recent proof with matching method", func(t *testing.T) {
		verified := now.Add(-5 * time.Minute)
		req := evalRequest("ben-1")
		req.Context.MFAVerifiedAt = &verified
		req.Context.MFAMethod = "totp"

		result, err := evaluator.Evaluate(context.Background(), matrix, req)
		require.NoError(t, err)
		assert.Equal(t, access.DecisionAllowed, result.Decision)
	})

	t.Run("stale proof goes pending", func(t *testing.T) {
		verified := now.Add(-time.Hour)
		req := evalRequest("ben-1")
		req.Context.MFAVerifiedAt = &verified
		req.Context.MFAMethod = "totp"

		result, err := evaluator.Evaluate(context.Background(), matrix, req)
		require.NoError(t, err)
		assert.Equal(t, access.DecisionDeniedPending, result.Decision)
	})

	t.Run("wrong method goes pending", func(t *testing.T) {
		verified := now.Add(-5 * time.Minute)
		req := evalRequest("ben-1")
		req.Context.MFAVerifiedAt = &verified
		req.Context.MFAMethod = "sms"

		result, err := evaluator.Evaluate(context.Background(), matrix, req)
		require.NoError(t, err)
		assert.Equal(t, access.DecisionDeniedPending, result.Decision)
	})
}

func TestEvaluateCustomConditionFailsClosedWhenUnregistered(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 0)
	rule.Conditions = []access.Condition{
		{Type: access.ConditionCustom, Custom: &access.CustomConditionParams{Name: "estate-probate-check"}},
	}
	matrix := testMatrix(rule)

	denied, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionDenied, denied.Decision)

	evaluator.RegisterCustomCondition("estate-probate-check", func(params map[string]string, evalCtx *access.EvaluationContext) bool {
		return true
	})
	allowed, err := evaluator.Evaluate(context.Background(), matrix, evalRequest("ben-1"))
	require.NoError(t, err)
	assert.Equal(t, access.DecisionAllowed, allowed.Decision)
}

func TestEvaluateLeavesRequestContextUntouched(t *testing.T) {
	evaluator := testEvaluator(nil)
	matrix := testMatrix(directRule("r1", "ben-1", 0))

	req := evalRequest("ben-1")
	req.Context = &access.EvaluationContext{IPAddress: "10.1.2.3"}
	before := *req.Context

	result, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Equal(t, access.DecisionAllowed, result.Decision)
	assert.False(t, result.EvaluatedAt.IsZero())

	// The caller's context is input only; a missing timestamp is filled in on
	// a copy, never written back
	assert.Equal(t, before, *req.Context)
	assert.True(t, req.Context.Now.IsZero())

	// A nil context works too
	req.Context = nil
	_, err = evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	assert.Nil(t, req.Context)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	evaluator := testEvaluator(nil)

	rule := directRule("r1", "ben-1", 3)
	rule.Conditions = []access.Condition{
		{Type: access.ConditionUserInactivity, UserInactivity: &access.UserInactivityParams{MinDays: 30}},
	}
	matrix := testMatrix(rule, directRule("r2", "ben-1", 1))

	req := evalRequest("ben-1")
	req.Context.OwnerInactiveDays = 45

	first, err := evaluator.Evaluate(context.Background(), matrix, req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := evaluator.Evaluate(context.Background(), matrix, req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

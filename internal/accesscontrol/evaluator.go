package accesscontrol

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

// Request is the (beneficiary, resource, requested-actions, context) tuple a
// disclosure request enters the evaluator with.
type Request struct {
	BeneficiaryID string                    `json:"beneficiary_id"`
	ResourceType  access.ResourceType       `json:"resource_type"`
	ResourceID    string                    `json:"resource_id,omitempty"`
	Actions       []access.Action           `json:"actions,omitempty"`
	Context       *access.EvaluationContext `json:"context"`
}

// Evaluator decides disclosure requests against a rule matrix. Evaluation is
// a pure function of matrix state and request context: no side effects, no
// clock reads (the context carries Now), so repeated calls with unchanged
// inputs return identical decisions.
type Evaluator struct {
	identity access.IdentityResolver
	logger   *logger.Logger
	custom   map[string]CustomConditionFunc
}

// NewEvaluator creates a new condition evaluator
func NewEvaluator(identity access.IdentityResolver, log *logger.Logger) *Evaluator {
	return &Evaluator{
		identity: identity,
		logger:   log,
		custom:   make(map[string]CustomConditionFunc),
	}
}

// RegisterCustomCondition registers an evaluator for custom conditions with
// the given name. Conditions naming an unregistered evaluator fail closed.
func (e *Evaluator) RegisterCustomCondition(name string, fn CustomConditionFunc) {
	e.custom[name] = fn
}

// Evaluate decides a disclosure request against the matrix. The
// highest-priority matching rule wins outright; permissions are never merged
// across rules. No rule matching means deny (fail closed).
func (e *Evaluator) Evaluate(ctx context.Context, matrix *access.AccessControlMatrix, req *Request) (*access.PermissionEvaluation, error) {
	evalCtx := normalizeContext(req.Context)
	now := evalCtx.Now

	winner, err := e.selectRule(ctx, matrix, req)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return &access.PermissionEvaluation{
			Decision:      access.DecisionDenied,
			Reason:        "no rule matches the requested subject and resource",
			MatrixVersion: matrix.Version,
			EvaluatedAt:   now,
		}, nil
	}

	result := e.evaluateRule(winner, req, evalCtx, matrix.Version)

	e.logger.WithFields(logrus.Fields{
		"matrix_id":      matrix.ID,
		"matrix_version": matrix.Version,
		"beneficiary_id": req.BeneficiaryID,
		"resource_type":  req.ResourceType,
		"rule_id":        result.RuleID,
		"decision":       result.Decision,
	}).Debug("Evaluated disclosure request")

	return result, nil
}

// EvaluateRule checks a single rule's permissions and conditions against
// the request. Used both for the winning matrix rule and for a rule
// delegated through a temporary grant (where subject matching is bypassed
// because the grant names the beneficiary explicitly).
func (e *Evaluator) EvaluateRule(rule *access.Rule, req *Request, matrixVersion int64) *access.PermissionEvaluation {
	return e.evaluateRule(rule, req, normalizeContext(req.Context), matrixVersion)
}

func (e *Evaluator) evaluateRule(rule *access.Rule, req *Request, evalCtx *access.EvaluationContext, matrixVersion int64) *access.PermissionEvaluation {
	now := evalCtx.Now

	result := &access.PermissionEvaluation{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		MatrixVersion: matrixVersion,
		EvaluatedAt:   now,
	}

	for _, action := range req.Actions {
		if !rule.Permissions.Allows(action) {
			result.Decision = access.DecisionDenied
			result.Reason = "winning rule does not permit action: " + string(action)
			return result
		}
	}

	// Conditions are ANDed: all must hold for the rule to grant. Unsatisfied
	// conditions of a satisfiable-later kind produce denied-pending instead
	// of a hard deny; any other unsatisfied condition denies outright.
	var pending []access.ConditionType
	for _, cond := range rule.Conditions {
		if e.evaluateCondition(cond, evalCtx) {
			continue
		}
		if cond.Type.SatisfiableLater() {
			pending = append(pending, cond.Type)
			continue
		}
		result.Decision = access.DecisionDenied
		result.Reason = "condition not satisfied: " + string(cond.Type)
		return result
	}

	if len(pending) > 0 {
		result.Decision = access.DecisionDeniedPending
		result.PendingConditions = pending
		result.Reason = "conditions outstanding; retry after satisfying them"
		return result
	}

	result.Decision = access.DecisionAllowed
	result.Permissions = rule.Permissions
	result.Reason = "granted by rule: " + rule.Name
	return result
}

// normalizeContext returns an evaluation context with Now populated. The
// caller's context is never written to; when it needs amending it is copied.
func normalizeContext(evalCtx *access.EvaluationContext) *access.EvaluationContext {
	if evalCtx == nil {
		return &access.EvaluationContext{Now: time.Now()}
	}
	if evalCtx.Now.IsZero() {
		copied := *evalCtx
		copied.Now = time.Now()
		return &copied
	}
	return evalCtx
}

// selectRule returns the single highest-priority rule matching the request's
// subject and resource, or nil when none match. Ties break by earliest
// creation order.
func (e *Evaluator) selectRule(ctx context.Context, matrix *access.AccessControlMatrix, req *Request) (*access.Rule, error) {
	var matches []*access.Rule
	for i := range matrix.Rules {
		rule := &matrix.Rules[i]
		if !resourceMatches(rule, req.ResourceType, req.ResourceID) {
			continue
		}
		matched, err := e.subjectMatches(ctx, rule, req.BeneficiaryID)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, rule)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].CreatedSeq < matches[j].CreatedSeq
	})
	return matches[0], nil
}

func resourceMatches(rule *access.Rule, resourceType access.ResourceType, resourceID string) bool {
	for _, resource := range rule.Resources {
		if resource.Matches(resourceType, resourceID) {
			return true
		}
	}
	return false
}

// subjectMatches reports whether at least one rule subject covers the
// beneficiary. Direct beneficiary subjects compare identifiers; the other
// kinds are resolved through the identity collaborator.
func (e *Evaluator) subjectMatches(ctx context.Context, rule *access.Rule, beneficiaryID string) (bool, error) {
	for _, subject := range rule.Subjects {
		if subject.Kind == access.SubjectBeneficiary {
			if subject.Identifier == beneficiaryID {
				return true, nil
			}
			continue
		}
		member, err := e.identity.IsMember(ctx, beneficiaryID, subject)
		if err != nil {
			return false, access.NewInternal("membership resolution failed", err).
				WithDetail("subject_kind", string(subject.Kind))
		}
		if member {
			return true, nil
		}
	}
	return false, nil
}

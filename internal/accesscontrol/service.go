package accesscontrol

import (
	"context"
	"time"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

// GrantConsulter is the slice of the grant manager the evaluator service
// needs: finding a beneficiary's active grants and consuming one when a
// decision is reached through it.
type GrantConsulter interface {
	ActiveGrantsFor(ctx context.Context, matrixID, beneficiaryID string) ([]*access.TemporaryAccessGrant, error)
	Consume(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error)
}

// Service runs the full disclosure decision flow: standing rules first,
// then any active temporary grants delegating a rule to the beneficiary.
type Service struct {
	matrices  repository.MatrixRepositoryInterface
	grants    GrantConsulter
	evaluator *Evaluator
	audit     access.AuditSink
	logger    *logger.Logger
}

// NewService creates a new access control service
func NewService(
	matrices repository.MatrixRepositoryInterface,
	grants GrantConsulter,
	evaluator *Evaluator,
	audit access.AuditSink,
	log *logger.Logger,
) *Service {
	return &Service{
		matrices:  matrices,
		grants:    grants,
		evaluator: evaluator,
		audit:     audit,
		logger:    log,
	}
}

// Evaluator returns the underlying condition evaluator
func (s *Service) Evaluator() *Evaluator {
	return s.evaluator
}

// EvaluateAccess decides a disclosure request. Standing rules are consulted
// first; when they do not grant, active temporary grants for the
// beneficiary are tried in turn. A decision reached via a grant consumes
// one use of it. The decision is logged with its machine-readable reason.
func (s *Service) EvaluateAccess(ctx context.Context, matrixID string, req *Request) (*access.PermissionEvaluation, error) {
	matrix, err := s.matrices.GetByID(ctx, matrixID)
	if err != nil {
		return nil, err
	}

	result, err := s.evaluator.Evaluate(ctx, matrix, req)
	if err != nil {
		return nil, err
	}

	if !result.Allowed() && s.grants != nil {
		viaGrant, grantErr := s.evaluateViaGrants(ctx, matrix, req)
		if grantErr != nil {
			return nil, grantErr
		}
		if viaGrant != nil && betterOutcome(viaGrant.Decision, result.Decision) {
			result = viaGrant
		}
	}

	s.logger.Disclosure(req.BeneficiaryID, string(req.ResourceType), string(result.Decision), result.Reason, map[string]interface{}{
		"matrix_id":    matrixID,
		"rule_id":      result.RuleID,
		"via_grant_id": result.ViaGrantID,
	})
	s.recordDecision(ctx, req, matrixID, result)

	return result, nil
}

// evaluateViaGrants tries the beneficiary's active grants against the rules
// they delegate. Subject matching is bypassed: the grant itself names the
// beneficiary. The best outcome across grants wins; only an allowed outcome
// consumes a grant use.
func (s *Service) evaluateViaGrants(ctx context.Context, matrix *access.AccessControlMatrix, req *Request) (*access.PermissionEvaluation, error) {
	grants, err := s.grants.ActiveGrantsFor(ctx, matrix.ID, req.BeneficiaryID)
	if err != nil {
		return nil, err
	}

	var best *access.PermissionEvaluation
	for _, grant := range grants {
		rule := matrix.FindRule(grant.RuleID)
		if rule == nil {
			// The delegated rule was removed after the grant was issued
			continue
		}
		if !resourceMatches(rule, req.ResourceType, req.ResourceID) {
			continue
		}

		candidate := s.evaluator.EvaluateRule(rule, req, matrix.Version)
		candidate.ViaGrantID = grant.ID

		if candidate.Allowed() {
			if _, consumeErr := s.grants.Consume(ctx, grant.ID); consumeErr != nil {
				// Lost a race to the grant's last use; try the next one
				continue
			}
			return candidate, nil
		}
		if best == nil || betterOutcome(candidate.Decision, best.Decision) {
			best = candidate
		}
	}
	return best, nil
}

func betterOutcome(a, b access.Decision) bool {
	rank := func(d access.Decision) int {
		switch d {
		case access.DecisionAllowed:
			return 2
		case access.DecisionDeniedPending:
			return 1
		default:
			return 0
		}
	}
	return rank(a) > rank(b)
}

func (s *Service) recordDecision(ctx context.Context, req *Request, matrixID string, result *access.PermissionEvaluation) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, access.AuditEvent{
		Actor:     req.BeneficiaryID,
		Action:    "disclosure.evaluate",
		SubjectID: matrixID,
		Result:    string(result.Decision),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"resource_type": req.ResourceType,
			"resource_id":   req.ResourceID,
			"rule_id":       result.RuleID,
			"reason":        result.Reason,
			"via_grant_id":  result.ViaGrantID,
		},
	})
}

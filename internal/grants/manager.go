package grants

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

// Manager owns the temporary grant lifecycle. Grants are issued only against
// an existing matrix+rule pair, consumed atomically through the repository,
// and revoked terminally.
type Manager struct {
	grants   repository.GrantRepositoryInterface
	matrices repository.MatrixRepositoryInterface
	audit    access.AuditSink
	logger   *logger.Logger
}

// NewManager creates a new grant manager
func NewManager(
	grants repository.GrantRepositoryInterface,
	matrices repository.MatrixRepositoryInterface,
	audit access.AuditSink,
	log *logger.Logger,
) *Manager {
	return &Manager{
		grants:   grants,
		matrices: matrices,
		audit:    audit,
		logger:   log,
	}
}

// CreateGrantInput carries the parameters for issuing a grant
type CreateGrantInput struct {
	MatrixID      string    `json:"matrix_id"`
	RuleID        string    `json:"rule_id"`
	BeneficiaryID string    `json:"beneficiary_id"`
	GrantedBy     string    `json:"granted_by"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxUsage      int       `json:"max_usage"` // 0 means unbounded
}

// CreateGrant issues a temporary grant delegating a rule's permissions to a
// beneficiary. The expiration must lie strictly in the future; the matrix
// version at issuance is pinned on the grant.
func (m *Manager) CreateGrant(ctx context.Context, input CreateGrantInput) (*access.TemporaryAccessGrant, error) {
	now := time.Now()

	var validationErrors access.ValidationErrors
	if input.BeneficiaryID == "" {
		validationErrors.Add("beneficiary_id", input.BeneficiaryID, "Beneficiary id is required")
	}
	if input.GrantedBy == "" {
		validationErrors.Add("granted_by", input.GrantedBy, "Granting actor is required")
	}
	if input.MaxUsage < 0 {
		validationErrors.Add("max_usage", "", "Max usage must not be negative")
	}
	if !input.ExpiresAt.After(now) {
		validationErrors.Add("expires_at", input.ExpiresAt.Format(time.RFC3339), "Expiration must be in the future")
	}
	if validationErrors.HasErrors() {
		return nil, validationErrors.AsInvalidInput()
	}

	matrix, err := m.matrices.GetByID(ctx, input.MatrixID)
	if err != nil {
		return nil, err
	}
	rule := matrix.FindRule(input.RuleID)
	if rule == nil {
		return nil, access.NewNotFound("rule", input.RuleID)
	}
	if matrix.OwnerID != input.GrantedBy {
		return nil, access.NewForbidden("only the matrix owner may issue grants")
	}

	grant := &access.TemporaryAccessGrant{
		ID:            uuid.New().String(),
		MatrixID:      matrix.ID,
		MatrixVersion: matrix.Version,
		RuleID:        rule.ID,
		BeneficiaryID: input.BeneficiaryID,
		GrantedBy:     input.GrantedBy,
		Reason:        input.Reason,
		ExpiresAt:     input.ExpiresAt,
		MaxUsage:      input.MaxUsage,
		CreatedAt:     now,
	}

	if err := m.grants.Create(ctx, grant); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"grant_id":       grant.ID,
		"matrix_id":      grant.MatrixID,
		"rule_id":        grant.RuleID,
		"beneficiary_id": grant.BeneficiaryID,
		"expires_at":     grant.ExpiresAt,
		"max_usage":      grant.MaxUsage,
	}).Info("Issued temporary access grant")
	m.recordAudit(ctx, input.GrantedBy, "grant.create", grant.ID, "success", map[string]interface{}{
		"matrix_id":      grant.MatrixID,
		"rule_id":        grant.RuleID,
		"beneficiary_id": grant.BeneficiaryID,
	})

	return grant, nil
}

// GetGrant retrieves a grant by id
func (m *Manager) GetGrant(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error) {
	return m.grants.GetByID(ctx, grantID)
}

// ListGrants lists grants matching the filter
func (m *Manager) ListGrants(ctx context.Context, filter access.GrantFilter) ([]*access.TemporaryAccessGrant, error) {
	return m.grants.List(ctx, filter)
}

// ActiveGrantsFor returns the active grants a beneficiary holds on a matrix
func (m *Manager) ActiveGrantsFor(ctx context.Context, matrixID, beneficiaryID string) ([]*access.TemporaryAccessGrant, error) {
	return m.grants.List(ctx, access.GrantFilter{
		MatrixID:      matrixID,
		BeneficiaryID: beneficiaryID,
		ActiveOnly:    true,
	})
}

// ActiveGrantExistsForRule reports whether any in-force grant delegates the
// given rule. The matrix manager consults this before mutating a rule: a
// delegated rule stays immutable until its grants lapse or are revoked.
func (m *Manager) ActiveGrantExistsForRule(ctx context.Context, matrixID, ruleID string) (bool, error) {
	active, err := m.grants.List(ctx, access.GrantFilter{MatrixID: matrixID, ActiveOnly: true})
	if err != nil {
		return false, err
	}
	for _, grant := range active {
		if grant.RuleID == ruleID {
			return true, nil
		}
	}
	return false, nil
}

// Consume records one use of the grant. The status check and the counter
// increment are a single atomic step in the repository, so concurrent
// consumers of a nearly-exhausted grant never overshoot its budget.
func (m *Manager) Consume(ctx context.Context, grantID string) (*access.TemporaryAccessGrant, error) {
	grant, err := m.grants.Consume(ctx, grantID, time.Now())
	if err != nil {
		m.recordAudit(ctx, "", "grant.consume", grantID, "denied", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"grant_id":    grant.ID,
		"usage_count": grant.UsageCount,
		"max_usage":   grant.MaxUsage,
	}).Info("Consumed temporary access grant")
	m.recordAudit(ctx, grant.BeneficiaryID, "grant.consume", grant.ID, "success", map[string]interface{}{
		"usage_count": grant.UsageCount,
	})

	return grant, nil
}

// RevokeGrant terminally revokes a grant. Revoking a grant that already
// reached a terminal state is a no-op reporting that state, not an error.
func (m *Manager) RevokeGrant(ctx context.Context, grantID, revokedBy, reason string) (*access.TemporaryAccessGrant, error) {
	grant, err := m.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if status := grant.Status(now); status != access.GrantStatusActive {
		m.logger.WithFields(logrus.Fields{
			"grant_id": grantID,
			"status":   status,
		}).Info("Revoke requested for grant already in terminal state")
		return grant, nil
	}

	grant.Revoked = true
	grant.RevokedBy = revokedBy
	grant.RevokedAt = &now
	grant.RevokeReason = reason

	if err := m.grants.Update(ctx, grant); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"grant_id":   grantID,
		"revoked_by": revokedBy,
	}).Warn("Revoked temporary access grant")
	m.recordAudit(ctx, revokedBy, "grant.revoke", grantID, "success", map[string]interface{}{
		"reason": reason,
	})

	return grant, nil
}

// ExpireSweep is a maintenance pass counting grants that drifted past their
// expiration. Expiry is derived state, so nothing is written; the sweep exists
// for operational visibility.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	all, err := m.grants.List(ctx, access.GrantFilter{})
	if err != nil {
		return 0, err
	}
	now := time.Now()
	expired := 0
	for _, grant := range all {
		if grant.Status(now) == access.GrantStatusExpired {
			expired++
		}
	}
	if expired > 0 {
		m.logger.WithFields(logrus.Fields{"count": expired}).Debug("Expired grants present")
	}
	return expired, nil
}

func (m *Manager) recordAudit(ctx context.Context, actor, action, subjectID, result string, details map[string]interface{}) {
	if m.audit == nil {
		return
	}
	m.audit.Record(ctx, access.AuditEvent{
		Actor:     actor,
		Action:    action,
		SubjectID: subjectID,
		Result:    result,
		Timestamp: time.Now(),
		Details:   details,
	})
}

package accesscontrol

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

// GrantGuard reports whether an in-force grant still references a rule.
// Rules under active delegation are immutable: the grant keeps meaning what
// it meant when it was issued.
type GrantGuard interface {
	ActiveGrantExistsForRule(ctx context.Context, matrixID, ruleID string) (bool, error)
}

// MatrixManager owns the rule matrix lifecycle: creation, rule mutation,
// deletion. Every mutation validates first and then swaps the matrix whole
// under an optimistic version check, so the stored rule set is never left
// partially updated.
type MatrixManager struct {
	matrices repository.MatrixRepositoryInterface
	grants   GrantGuard
	audit    access.AuditSink
	logger   *logger.Logger
}

// NewMatrixManager creates a new matrix manager
func NewMatrixManager(matrices repository.MatrixRepositoryInterface, audit access.AuditSink, log *logger.Logger) *MatrixManager {
	return &MatrixManager{
		matrices: matrices,
		audit:    audit,
		logger:   log,
	}
}

// SetGrantGuard wires the grant manager in so rule mutations can be blocked
// while a grant delegating the rule is in force.
func (m *MatrixManager) SetGrantGuard(guard GrantGuard) {
	m.grants = guard
}

func (m *MatrixManager) ruleInForce(ctx context.Context, matrixID, ruleID string) error {
	if m.grants == nil {
		return nil
	}
	inForce, err := m.grants.ActiveGrantExistsForRule(ctx, matrixID, ruleID)
	if err != nil {
		return err
	}
	if inForce {
		return access.NewConflict("rule is delegated by an active grant and cannot be changed").
			WithDetail("rule_id", ruleID)
	}
	return nil
}

// CreateMatrix creates an empty access control matrix for an owner
func (m *MatrixManager) CreateMatrix(ctx context.Context, ownerID, name string) (*access.AccessControlMatrix, error) {
	if ownerID == "" {
		return nil, access.NewInvalidInput("owner id is required")
	}
	if name == "" {
		return nil, access.NewInvalidInput("matrix name is required")
	}

	now := time.Now()
	matrix := &access.AccessControlMatrix{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Version:   1,
		NextSeq:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.matrices.Create(ctx, matrix); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"matrix_id": matrix.ID,
		"owner_id":  ownerID,
	}).Info("Created access control matrix")
	m.recordAudit(ctx, ownerID, "matrix.create", matrix.ID, "success", nil)

	return matrix, nil
}

// GetMatrix retrieves a matrix by id
func (m *MatrixManager) GetMatrix(ctx context.Context, matrixID string) (*access.AccessControlMatrix, error) {
	return m.matrices.GetByID(ctx, matrixID)
}

// ListMatrices lists all matrices owned by the given owner
func (m *MatrixManager) ListMatrices(ctx context.Context, ownerID string) ([]*access.AccessControlMatrix, error) {
	return m.matrices.ListByOwner(ctx, ownerID)
}

// DeleteMatrix removes a matrix; only its owner may do so
func (m *MatrixManager) DeleteMatrix(ctx context.Context, matrixID, actorID string) error {
	matrix, err := m.matrices.GetByID(ctx, matrixID)
	if err != nil {
		return err
	}
	if matrix.OwnerID != actorID {
		return access.NewForbidden("only the matrix owner may delete it")
	}
	if err := m.matrices.Delete(ctx, matrixID); err != nil {
		return err
	}

	m.recordAudit(ctx, actorID, "matrix.delete", matrixID, "success", nil)
	return nil
}

// AddRule validates and appends a rule to the matrix, bumping its version.
// Validation failure aborts before any repository write.
func (m *MatrixManager) AddRule(ctx context.Context, matrixID, actorID string, rule access.Rule) (*access.Rule, error) {
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}

	matrix, err := m.matrices.GetByID(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	if matrix.OwnerID != actorID {
		return nil, access.NewForbidden("only the matrix owner may modify rules")
	}

	expectedVersion := matrix.Version
	updated := matrix.Clone()

	rule.ID = uuid.New().String()
	rule.CreatedSeq = updated.NextSeq
	rule.CreatedAt = time.Now()
	updated.NextSeq++
	updated.Version++
	rule.Version = updated.Version
	updated.Rules = append(updated.Rules, rule)
	updated.UpdatedAt = rule.CreatedAt

	if err := m.matrices.Update(ctx, updated, expectedVersion); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"matrix_id":      matrixID,
		"rule_id":        rule.ID,
		"rule_name":      rule.Name,
		"priority":       rule.Priority,
		"matrix_version": updated.Version,
	}).Info("Added access rule")
	m.recordAudit(ctx, actorID, "rule.add", rule.ID, "success", map[string]interface{}{
		"matrix_id": matrixID,
		"priority":  rule.Priority,
	})

	return &rule, nil
}

// UpdateRule validates and replaces an existing rule, bumping the matrix
// version. Identity fields (id, creation order) are preserved.
func (m *MatrixManager) UpdateRule(ctx context.Context, matrixID, actorID, ruleID string, rule access.Rule) (*access.Rule, error) {
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}

	matrix, err := m.matrices.GetByID(ctx, matrixID)
	if err != nil {
		return nil, err
	}
	if matrix.OwnerID != actorID {
		return nil, access.NewForbidden("only the matrix owner may modify rules")
	}

	expectedVersion := matrix.Version
	updated := matrix.Clone()
	existing := updated.FindRule(ruleID)
	if existing == nil {
		return nil, access.NewNotFound("rule", ruleID)
	}
	if err := m.ruleInForce(ctx, matrixID, ruleID); err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedSeq = existing.CreatedSeq
	rule.CreatedAt = existing.CreatedAt
	updated.Version++
	rule.Version = updated.Version
	*existing = rule
	updated.UpdatedAt = time.Now()

	if err := m.matrices.Update(ctx, updated, expectedVersion); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"matrix_id":      matrixID,
		"rule_id":        ruleID,
		"matrix_version": updated.Version,
	}).Info("Updated access rule")
	m.recordAudit(ctx, actorID, "rule.update", ruleID, "success", map[string]interface{}{
		"matrix_id": matrixID,
	})

	return &rule, nil
}

// DeleteRule removes a rule from the matrix, bumping its version
func (m *MatrixManager) DeleteRule(ctx context.Context, matrixID, actorID, ruleID string) error {
	matrix, err := m.matrices.GetByID(ctx, matrixID)
	if err != nil {
		return err
	}
	if matrix.OwnerID != actorID {
		return access.NewForbidden("only the matrix owner may modify rules")
	}

	expectedVersion := matrix.Version
	updated := matrix.Clone()

	index := -1
	for i := range updated.Rules {
		if updated.Rules[i].ID == ruleID {
			index = i
			break
		}
	}
	if index < 0 {
		return access.NewNotFound("rule", ruleID)
	}
	if err := m.ruleInForce(ctx, matrixID, ruleID); err != nil {
		return err
	}

	updated.Rules = append(updated.Rules[:index], updated.Rules[index+1:]...)
	updated.Version++
	updated.UpdatedAt = time.Now()

	if err := m.matrices.Update(ctx, updated, expectedVersion); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"matrix_id":      matrixID,
		"rule_id":        ruleID,
		"matrix_version": updated.Version,
	}).Info("Deleted access rule")
	m.recordAudit(ctx, actorID, "rule.delete", ruleID, "success", map[string]interface{}{
		"matrix_id": matrixID,
	})

	return nil
}

func (m *MatrixManager) recordAudit(ctx context.Context, actor, action, subjectID, result string, details map[string]interface{}) {
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

// ValidateRule validates a rule's structural integrity: required name, at
// least one recognized subject and resource, non-empty permissions,
// non-negative priority, and well-formed condition parameters.
func ValidateRule(rule *access.Rule) error {
	var validationErrors access.ValidationErrors

	if rule.Name == "" {
		validationErrors.Add("name", rule.Name, "Rule name is required")
	}

	if len(rule.Subjects) == 0 {
		validationErrors.Add("subjects", "empty", "At least one subject is required")
	}
	for i, subject := range rule.Subjects {
		if !recognizedSubjectKind(subject.Kind) {
			validationErrors.Add("subjects", string(subject.Kind), "Unrecognized subject kind")
		}
		if subject.Identifier == "" {
			validationErrors.Add("subjects", itoa(i), "Subject identifier is required")
		}
	}

	if len(rule.Resources) == 0 {
		validationErrors.Add("resources", "empty", "At least one resource is required")
	}
	for _, resource := range rule.Resources {
		if !recognizedResourceType(resource.Type) {
			validationErrors.Add("resources", string(resource.Type), "Unrecognized resource type")
		}
	}

	if rule.Permissions.IsEmpty() {
		validationErrors.Add("permissions", "empty", "At least one permission is required")
	}

	if rule.Priority < 0 {
		validationErrors.Add("priority", itoa(rule.Priority), "Priority must be non-negative")
	}

	for i, cond := range rule.Conditions {
		if err := cond.Validate(); err != nil {
			validationErrors.Add("conditions", itoa(i), err.Error())
		}
	}

	if validationErrors.HasErrors() {
		return validationErrors.AsInvalidInput()
	}
	return nil
}

func recognizedSubjectKind(kind access.SubjectKind) bool {
	for _, k := range access.SubjectKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func recognizedResourceType(resourceType access.ResourceType) bool {
	for _, t := range access.ResourceTypes {
		if t == resourceType {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

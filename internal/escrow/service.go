package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

// Service runs the threshold key recovery workflow: a requester opens a
// recovery request against escrow-protected keys, named trustees vote and
// submit their encrypted shares, and the request completes only once the
// approval threshold is met and the cooling-off delay has elapsed.
type Service struct {
	requests repository.EscrowRepositoryInterface
	keys     access.KeyManager
	notifier access.Notifier
	audit    access.AuditSink
	config   config.EscrowConfig
	logger   *logger.Logger
}

// NewService creates a new key escrow service
func NewService(
	requests repository.EscrowRepositoryInterface,
	keys access.KeyManager,
	notifier access.Notifier,
	audit access.AuditSink,
	cfg config.EscrowConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		requests: requests,
		keys:     keys,
		notifier: notifier,
		audit:    audit,
		config:   cfg,
		logger:   log,
	}
}

// RecoveryInput carries the parameters for opening a recovery request.
// Zero TimeDelayHours falls back to the configured default.
type RecoveryInput struct {
	RequesterID    string   `json:"requester_id"`
	RequesterEmail string   `json:"requester_email"`
	KeyIDs         []string `json:"key_ids"`
	Reason         string   `json:"reason"`
	TimeDelayHours int      `json:"time_delay_hours,omitempty"`
}

// RequestKeyRecovery opens a recovery request for escrow-protected keys.
// Every requested key must carry an escrow policy; a key without one fails
// the whole request closed. All keys must share the same trustee
// configuration so a single quorum governs the request.
func (s *Service) RequestKeyRecovery(ctx context.Context, input RecoveryInput) (*access.EscrowRequest, error) {
	var validationErrors access.ValidationErrors
	if input.RequesterID == "" {
		validationErrors.Add("requester_id", input.RequesterID, "Requester id is required")
	}
	if len(input.KeyIDs) == 0 {
		validationErrors.Add("key_ids", "empty", "At least one key id is required")
	}
	if input.Reason == "" {
		validationErrors.Add("reason", input.Reason, "Recovery reason is required")
	}
	if input.TimeDelayHours < 0 || input.TimeDelayHours > s.config.MaxTimeDelayHours {
		validationErrors.Add("time_delay_hours", "", "Time delay is out of range")
	}
	if validationErrors.HasErrors() {
		return nil, validationErrors.AsInvalidInput()
	}

	policy, err := s.resolvePolicy(ctx, input.KeyIDs)
	if err != nil {
		return nil, err
	}

	delayHours := input.TimeDelayHours
	if delayHours == 0 {
		delayHours = s.config.DefaultTimeDelayHours
	}

	request := &access.EscrowRequest{
		ID:               uuid.New().String(),
		RequesterID:      input.RequesterID,
		RequesterEmail:   input.RequesterEmail,
		KeyIDs:           input.KeyIDs,
		Reason:           input.Reason,
		TimeDelayHours:   delayHours,
		Threshold:        policy.Threshold,
		TrusteeIDs:       policy.TrusteeIDs,
		Status:           access.EscrowStatusPending,
		TrusteeDecisions: make(map[string]access.TrusteeDecision),
		CollectedShares:  make(map[string]string),
		CreatedAt:        time.Now(),
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":       request.ID,
		"requester_id":     request.RequesterID,
		"key_count":        len(request.KeyIDs),
		"threshold":        request.Threshold,
		"trustee_count":    len(request.TrusteeIDs),
		"time_delay_hours": request.TimeDelayHours,
	}).Info("Opened key recovery request")
	s.recordAudit(ctx, input.RequesterID, "escrow.request", request.ID, "success", map[string]interface{}{
		"key_ids":   request.KeyIDs,
		"threshold": request.Threshold,
	})

	for _, trusteeID := range request.TrusteeIDs {
		s.notify(ctx, trusteeID, "escrow.decision_needed", "A key recovery request awaits your decision", map[string]string{
			"request_id": request.ID,
		})
	}

	return request, nil
}

// resolvePolicy loads the escrow policy for every requested key and requires
// them to agree on threshold and trustees. A key without a configured policy
// fails closed rather than defaulting to an open release.
func (s *Service) resolvePolicy(ctx context.Context, keyIDs []string) (*access.EscrowPolicy, error) {
	var policy *access.EscrowPolicy
	for _, keyID := range keyIDs {
		p, err := s.keys.EscrowPolicy(ctx, keyID)
		if err != nil {
			if access.IsType(err, access.ErrorTypeNotFound) {
				return nil, access.NewPreconditionFailed("key has no escrow threshold configured").
					WithDetail("key_id", keyID)
			}
			return nil, err
		}
		if p.Threshold < 1 || p.Threshold > len(p.TrusteeIDs) {
			return nil, access.NewPreconditionFailed("key escrow policy is malformed").
				WithDetail("key_id", keyID)
		}
		if policy == nil {
			policy = p
			continue
		}
		if !samePolicy(policy, p) {
			return nil, access.NewInvalidInput("requested keys have differing escrow policies").
				WithDetail("key_id", keyID)
		}
	}
	return policy, nil
}

func samePolicy(a, b *access.EscrowPolicy) bool {
	if a.Threshold != b.Threshold || len(a.TrusteeIDs) != len(b.TrusteeIDs) {
		return false
	}
	members := make(map[string]bool, len(a.TrusteeIDs))
	for _, id := range a.TrusteeIDs {
		members[id] = true
	}
	for _, id := range b.TrusteeIDs {
		if !members[id] {
			return false
		}
	}
	return true
}

// ProcessTrusteeDecision records a trustee's vote on a pending request. A
// repeated decision from the same trustee replaces the earlier one and
// retains it as a correction. Rejections are advisory; the request flips to
// rejected only once quorum can no longer be reached.
func (s *Service) ProcessTrusteeDecision(ctx context.Context, requestID, trusteeID string, vote access.TrusteeVote, reason string) (*access.EscrowRequest, error) {
	if vote != access.VoteApproved && vote != access.VoteRejected {
		return nil, access.NewInvalidInput("unrecognized trustee vote").WithDetail("vote", string(vote))
	}

	request, err := s.requests.Mutate(ctx, requestID, func(r *access.EscrowRequest) error {
		if r.Status != access.EscrowStatusPending {
			return access.NewPreconditionFailed("recovery request is no longer pending").
				WithDetail("status", string(r.Status))
		}
		if !r.NamesTrustee(trusteeID) {
			return access.NewForbidden("trustee is not named on this recovery request")
		}

		decision := access.TrusteeDecision{
			TrusteeID: trusteeID,
			Vote:      vote,
			Reason:    reason,
			DecidedAt: time.Now(),
		}
		if previous, ok := r.TrusteeDecisions[trusteeID]; ok {
			decision.Supersedes = &previous
		}
		r.TrusteeDecisions[trusteeID] = decision

		// A trustee withdrawing an approval also withdraws their share
		if vote == access.VoteRejected {
			delete(r.CollectedShares, trusteeID)
		}

		s.resolve(r, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"trustee_id": trusteeID,
		"vote":       vote,
		"status":     request.Status,
	}).Info("Recorded trustee decision")
	s.recordAudit(ctx, trusteeID, "escrow.decide", requestID, string(vote), map[string]interface{}{
		"status": request.Status,
	})
	s.notifyResolution(ctx, request)

	return request, nil
}

// ProvideTrusteeShare accepts a trustee's encrypted share for a pending
// request. The share is an opaque blob; only an approving trustee's share
// counts toward quorum, and the approval plus share pairing is what completes
// it.
func (s *Service) ProvideTrusteeShare(ctx context.Context, requestID, trusteeID, encryptedShare string) (*access.EscrowRequest, error) {
	if encryptedShare == "" {
		return nil, access.NewInvalidInput("encrypted share must not be empty")
	}

	request, err := s.requests.Mutate(ctx, requestID, func(r *access.EscrowRequest) error {
		if r.Status != access.EscrowStatusPending {
			return access.NewPreconditionFailed("recovery request is no longer pending").
				WithDetail("status", string(r.Status))
		}
		if !r.NamesTrustee(trusteeID) {
			return access.NewForbidden("trustee is not named on this recovery request")
		}
		if decision, ok := r.TrusteeDecisions[trusteeID]; ok && decision.Vote == access.VoteRejected {
			return access.NewPreconditionFailed("a rejecting trustee cannot submit a share")
		}

		r.CollectedShares[trusteeID] = encryptedShare

		s.resolve(r, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"trustee_id":  trusteeID,
		"share_count": len(request.CollectedShares),
		"status":      request.Status,
	}).Info("Collected trustee share")
	s.recordAudit(ctx, trusteeID, "escrow.share", requestID, "success", map[string]interface{}{
		"status": request.Status,
	})
	s.notifyResolution(ctx, request)

	return request, nil
}

// resolve applies the terminal-state transitions a decision or share may have
// triggered. Runs inside the request's exclusive mutation, so the quorum
// check and the transition it justifies are atomic together.
func (s *Service) resolve(r *access.EscrowRequest, now time.Time) {
	switch {
	case r.QuorumImpossible():
		r.Status = access.EscrowStatusRejected
		r.ResolvedAt = &now
	case r.QuorumMet(now):
		r.Status = access.EscrowStatusRecovered
		r.ResolvedAt = &now
	}
}

// GetRequestStatus returns the computed view of a request: counts, threshold,
// delay eligibility, and whether quorum is currently met.
func (s *Service) GetRequestStatus(ctx context.Context, requestID string) (*access.EscrowRequestStatus, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &access.EscrowRequestStatus{
		Request:           request,
		ApprovedAndShared: request.ApprovedAndShared(),
		Rejections:        request.Rejections(),
		Threshold:         request.Threshold,
		EligibleAt:        request.EligibleAt(),
		DelayElapsed:      !now.Before(request.EligibleAt()),
		QuorumMet:         request.QuorumMet(now),
	}, nil
}

// ListRequests lists recovery requests matching the filter
func (s *Service) ListRequests(ctx context.Context, filter access.EscrowFilter) ([]*access.EscrowRequest, error) {
	return s.requests.List(ctx, filter)
}

// CompleteRecovery finalizes a request whose quorum and delay are both
// satisfied but whose status has not yet flipped (the delay elapsed with no
// further trustee activity). It is safe to call at any time.
func (s *Service) CompleteRecovery(ctx context.Context, requestID string) (*access.EscrowRequest, error) {
	request, err := s.requests.Mutate(ctx, requestID, func(r *access.EscrowRequest) error {
		if r.Status == access.EscrowStatusRecovered {
			return nil
		}
		if r.Status != access.EscrowStatusPending {
			return access.NewPreconditionFailed("recovery request is no longer pending").
				WithDetail("status", string(r.Status))
		}
		now := time.Now()
		if !r.QuorumMet(now) {
			if r.ApprovedAndShared() < r.Threshold {
				return access.NewPreconditionFailed("approval threshold not yet met").
					WithDetail("approved_and_shared", r.ApprovedAndShared()).
					WithDetail("threshold", r.Threshold)
			}
			return access.NewPreconditionFailed("cooling-off delay has not elapsed").
				WithDetail("eligible_at", r.EligibleAt())
		}
		r.Status = access.EscrowStatusRecovered
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
	}).Info("Completed key recovery")
	s.recordAudit(ctx, request.RequesterID, "escrow.complete", requestID, "success", nil)
	s.notifyResolution(ctx, request)

	return request, nil
}

// AuthorizeKeyRelease reports whether a completed recovery authorizes
// releasing the given key to the recipient. Called by the token service
// before it releases escrow-protected keys on full-access disclosure.
func (s *Service) AuthorizeKeyRelease(ctx context.Context, keyID, recipientID string) error {
	requests, err := s.requests.List(ctx, access.EscrowFilter{
		RequesterID: recipientID,
		Status:      access.EscrowStatusRecovered,
	})
	if err != nil {
		return err
	}
	for _, request := range requests {
		for _, id := range request.KeyIDs {
			if id == keyID {
				return nil
			}
		}
	}

	s.logger.Security("escrow_release_blocked", recipientID, map[string]interface{}{
		"key_id": keyID,
	})
	return access.NewPreconditionFailed("key release requires a completed recovery workflow").
		WithDetail("key_id", keyID)
}

// ExpireStaleRequests flips pending requests past their TTL to expired.
// Returns the number of requests transitioned.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	pending, err := s.requests.List(ctx, access.EscrowFilter{Status: access.EscrowStatusPending})
	if err != nil {
		return 0, err
	}

	ttl := time.Duration(s.config.RequestTTLDays) * 24 * time.Hour
	now := time.Now()
	expired := 0

	for _, candidate := range pending {
		if now.Sub(candidate.CreatedAt) < ttl {
			continue
		}
		_, err := s.requests.Mutate(ctx, candidate.ID, func(r *access.EscrowRequest) error {
			if r.Status != access.EscrowStatusPending {
				return nil
			}
			resolvedAt := now
			r.Status = access.EscrowStatusExpired
			r.ResolvedAt = &resolvedAt
			return nil
		})
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": candidate.ID,
				"error":      err.Error(),
			}).Warn("Failed to expire stale recovery request")
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.WithFields(logrus.Fields{"count": expired}).Info("Expired stale recovery requests")
	}
	return expired, nil
}

// notifyResolution informs the requester once a request leaves the pending state
func (s *Service) notifyResolution(ctx context.Context, request *access.EscrowRequest) {
	if request.Status == access.EscrowStatusPending {
		return
	}
	s.notify(ctx, request.RequesterID, "escrow.resolved", "Your key recovery request was resolved", map[string]string{
		"request_id": request.ID,
		"status":     string(request.Status),
	})
}

func (s *Service) notify(ctx context.Context, recipientID, kind, subject string, metadata map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, access.Notification{
		RecipientID: recipientID,
		Kind:        kind,
		Subject:     subject,
		Metadata:    metadata,
	})
}

func (s *Service) recordAudit(ctx context.Context, actor, action, subjectID, result string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, access.AuditEvent{
		Actor:     actor,
		Action:    action,
		SubjectID: subjectID,
		Result:    result,
		Timestamp: time.Now(),
		Details:   details,
	})
}

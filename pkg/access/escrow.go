package access

import (
	"time"
)

// TrusteeDecision is one trustee's recorded vote on a recovery request,
// optionally paired with their submitted encrypted share. An approval
// without a share is recorded but never counts toward quorum.
type TrusteeDecision struct {
	TrusteeID string      `json:"trustee_id"`
	Vote      TrusteeVote `json:"vote"`
	Reason    string      `json:"reason,omitempty"`
	DecidedAt time.Time   `json:"decided_at"`
	// Superseded decisions are retained as corrections, never dropped
	Supersedes *TrusteeDecision `json:"supersedes,omitempty"`
}

// EscrowRequest is the approval and share-collection workflow for recovering
// escrow-protected keys when the owner is unavailable. Key material itself is
// owned by the external key-management collaborator; shares here are opaque
// encrypted blobs.
type EscrowRequest struct {
	ID               string                     `json:"id"`
	RequesterID      string                     `json:"requester_id"`
	RequesterEmail   string                     `json:"requester_email"`
	KeyIDs           []string                   `json:"key_ids"`
	Reason           string                     `json:"reason"`
	TimeDelayHours   int                        `json:"time_delay_hours"`
	Threshold        int                        `json:"threshold"`
	TrusteeIDs       []string                   `json:"trustee_ids"`
	Status           EscrowStatus               `json:"status"`
	TrusteeDecisions map[string]TrusteeDecision `json:"trustee_decisions"`
	CollectedShares  map[string]string          `json:"collected_shares"`
	CreatedAt        time.Time                  `json:"created_at"`
	ResolvedAt       *time.Time                 `json:"resolved_at,omitempty"`
}

// EligibleAt returns the earliest instant recovery may complete; the delay
// is enforced even when quorum is reached earlier.
func (r *EscrowRequest) EligibleAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TimeDelayHours) * time.Hour)
}

// ApprovedAndShared counts trustees whose current decision is an approval
// paired with a submitted share.
func (r *EscrowRequest) ApprovedAndShared() int {
	count := 0
	for trusteeID, decision := range r.TrusteeDecisions {
		if decision.Vote != VoteApproved {
			continue
		}
		if _, ok := r.CollectedShares[trusteeID]; ok {
			count++
		}
	}
	return count
}

// Rejections counts trustees whose current decision is a rejection
func (r *EscrowRequest) Rejections() int {
	count := 0
	for _, decision := range r.TrusteeDecisions {
		if decision.Vote == VoteRejected {
			count++
		}
	}
	return count
}

// QuorumMet reports whether enough approved-and-shared trustees exist and
// the cooling-off window has elapsed.
func (r *EscrowRequest) QuorumMet(now time.Time) bool {
	if r.ApprovedAndShared() < r.Threshold {
		return false
	}
	return !now.Before(r.EligibleAt())
}

// QuorumImpossible reports whether enough trustees have rejected that the
// remaining pool can no longer reach the threshold.
func (r *EscrowRequest) QuorumImpossible() bool {
	return len(r.TrusteeIDs)-r.Rejections() < r.Threshold
}

// NamesTrustee reports whether the given trustee participates in this request
func (r *EscrowRequest) NamesTrustee(trusteeID string) bool {
	for _, id := range r.TrusteeIDs {
		if id == trusteeID {
			return true
		}
	}
	return false
}

// EscrowPolicy is the (t, n) threshold configuration for a key, set at
// key-generation time by the key-management collaborator.
type EscrowPolicy struct {
	KeyID      string   `json:"key_id"`
	Threshold  int      `json:"threshold"`
	TrusteeIDs []string `json:"trustee_ids"`
}

// EscrowRequestStatus is the computed view of a request returned to callers
type EscrowRequestStatus struct {
	Request           *EscrowRequest `json:"request"`
	ApprovedAndShared int            `json:"approved_and_shared"`
	Rejections        int            `json:"rejections"`
	Threshold         int            `json:"threshold"`
	EligibleAt        time.Time      `json:"eligible_at"`
	DelayElapsed      bool           `json:"delay_elapsed"`
	QuorumMet         bool           `json:"quorum_met"`
}

// EscrowFilter narrows escrow request listings
type EscrowFilter struct {
	RequesterID string
	TrusteeID   string
	Status      EscrowStatus
	Limit       int
	Offset      int
}

package access

import (
	"time"
)

// TemporaryAccessGrant is a time- and usage-bounded delegation of a rule's
// permissions to one beneficiary. Created only against an existing
// matrix+rule pair; the matrix version at creation time is pinned so the
// grant keeps referencing the rule it was issued under.
type TemporaryAccessGrant struct {
	ID            string     `json:"id"`
	MatrixID      string     `json:"matrix_id"`
	MatrixVersion int64      `json:"matrix_version"`
	RuleID        string     `json:"rule_id"`
	BeneficiaryID string     `json:"beneficiary_id"`
	GrantedBy     string     `json:"granted_by"`
	Reason        string     `json:"reason"`
	ExpiresAt     time.Time  `json:"expires_at"`
	MaxUsage      int        `json:"max_usage"` // 0 means unbounded
	UsageCount    int        `json:"usage_count"`
	Revoked       bool       `json:"revoked"`
	RevokedBy     string     `json:"revoked_by,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokeReason  string     `json:"revoke_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Status derives the grant's lifecycle state at the given instant. Revocation
// and exhaustion are stored; expiry is derived, never written.
func (g *TemporaryAccessGrant) Status(now time.Time) GrantStatus {
	if g.Revoked {
		return GrantStatusRevoked
	}
	if g.MaxUsage > 0 && g.UsageCount >= g.MaxUsage {
		return GrantStatusExhausted
	}
	if !now.Before(g.ExpiresAt) {
		return GrantStatusExpired
	}
	return GrantStatusActive
}

// IsActive reports whether the grant can still be consumed at the given instant
func (g *TemporaryAccessGrant) IsActive(now time.Time) bool {
	return g.Status(now) == GrantStatusActive
}

// GrantFilter narrows grant listings
type GrantFilter struct {
	MatrixID      string
	BeneficiaryID string
	ActiveOnly    bool
	Limit         int
	Offset        int
}

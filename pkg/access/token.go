package access

import (
	"time"
)

// EmergencyToken is a bounded-use, bounded-time bearer credential enabling
// out-of-band access without a standing session. The bearer secret itself is
// returned exactly once at generation and refresh; only its hash is stored.
type EmergencyToken struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	ContactID      string            `json:"contact_id"`
	FileIDs        []string          `json:"file_ids,omitempty"`
	AccessLevel    AccessLevel       `json:"access_level"`
	SecretHash     []byte            `json:"-"`
	ExpiresAt      time.Time         `json:"expires_at"`
	MaxUses        int               `json:"max_uses"`
	CurrentUses    int               `json:"current_uses"`
	IPRestrictions []string          `json:"ip_restrictions,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ActivatedAt    *time.Time        `json:"activated_at,omitempty"`
	RefreshedAt    *time.Time        `json:"refreshed_at,omitempty"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
	RevokedReason  string            `json:"revoked_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsExpired reports whether the token's time window has closed
func (t *EmergencyToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsedUp reports whether the token's usage budget is spent
func (t *EmergencyToken) IsUsedUp() bool {
	return t.CurrentUses >= t.MaxUses
}

// IsRevoked reports whether the token was terminally revoked
func (t *EmergencyToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActivated reports whether the token has been activated; a token that is
// not yet activated cannot be consumed.
func (t *EmergencyToken) IsActivated() bool {
	return t.ActivatedAt != nil
}

// IsActive is the derived predicate: not revoked, within the time window,
// and under the usage cap.
func (t *EmergencyToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now) && !t.IsUsedUp()
}

// Status derives the token's lifecycle state at the given instant
func (t *EmergencyToken) Status(now time.Time) TokenStatus {
	switch {
	case t.IsRevoked():
		return TokenStatusRevoked
	case t.IsExpired(now):
		return TokenStatusExpired
	case t.IsUsedUp():
		return TokenStatusExhausted
	case t.IsActivated():
		return TokenStatusActive
	default:
		return TokenStatusIssued
	}
}

// TokenGrant is the material handed back on generation or refresh: the
// token id, the one-time-visible bearer secret, and the share URL.
type TokenGrant struct {
	TokenID      string          `json:"token_id"`
	BearerSecret string          `json:"bearer_secret"`
	URL          string          `json:"url"`
	Token        *EmergencyToken `json:"token"`
}

// TokenAssertion is the payload of a short-lived signed assertion derived
// from an active token, verifiable without a storage round-trip.
type TokenAssertion struct {
	TokenID     string      `json:"token_id"`
	ContactID   string      `json:"contact_id"`
	AccessLevel AccessLevel `json:"access_level"`
	FileIDs     []string    `json:"file_ids,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// TokenFilter narrows token listings
type TokenFilter struct {
	OwnerID    string
	ContactID  string
	ActiveOnly bool
	Limit      int
	Offset     int
}

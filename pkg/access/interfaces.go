package access

import (
	"context"
	"time"
)

// Contact is the resolved identity of a trusted contact / beneficiary
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// IdentityResolver resolves who is asking. The engine receives resolved
// identities and membership answers; it never parses session credentials.
type IdentityResolver interface {
	// ResolveContact resolves a contact id to its identity record
	ResolveContact(ctx context.Context, contactID string) (*Contact, error)
	// IsMember reports whether the beneficiary matches a non-direct subject
	// (group membership, role assignment, trust level, relationship)
	IsMember(ctx context.Context, beneficiaryID string, subject Subject) (bool, error)
}

// KeyManager is the external key-management collaborator. Key material is
// opaque to the engine; only escrow policies and release handoff cross this
// boundary.
type KeyManager interface {
	// EscrowPolicy returns the (t, n) threshold configuration for a key, or
	// a not-found error when the key has no escrow policy
	EscrowPolicy(ctx context.Context, keyID string) (*EscrowPolicy, error)
	// IsEscrowProtected reports whether releasing the key requires a
	// completed recovery workflow
	IsEscrowProtected(ctx context.Context, keyID string) (bool, error)
	// ReleaseKey hands the decryption key for an authorized disclosure to
	// the storage layer; the returned handle is opaque
	ReleaseKey(ctx context.Context, keyID string, recipientID string) (string, error)
}

// StorageService is the storage/encryption collaborator holding encrypted
// resource bytes.
type StorageService interface {
	// FileExists checks existence for validation
	FileExists(ctx context.Context, fileID string) (bool, error)
	// KeyIDForFile returns the id of the key protecting a file
	KeyIDForFile(ctx context.Context, fileID string) (string, error)
}

// AuditEvent is the structured event emitted after every mutating operation
type AuditEvent struct {
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	SubjectID string                 `json:"subject_id"`
	Result    string                 `json:"result"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditSink receives audit events. The engine calls it as a side effect and
// never depends on its result.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// Notification informs a beneficiary or trustee of a pending action
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Kind        string            `json:"kind"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Notifier delivers notifications. Fire-and-forget: failures must never roll
// back the state transition that triggered them.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

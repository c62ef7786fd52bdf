package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
)

// Directory is an in-memory registry of the engine's collaborators: trusted
// contacts and their group/role memberships, managed keys with their escrow
// policies, and the files those keys protect. It backs deployments where the
// surrounding platform has not wired its own identity, key-management, and
// storage services, and it is the collaborator double used throughout the
// test suites.
type Directory struct {
	mu          sync.RWMutex
	contacts    map[string]*access.Contact
	memberships map[string]map[string]bool // subject key -> member ids
	policies    map[string]*access.EscrowPolicy
	protected   map[string]bool
	files       map[string]string // file id -> key id
}

// New creates an empty directory
func New() *Directory {
	return &Directory{
		contacts:    make(map[string]*access.Contact),
		memberships: make(map[string]map[string]bool),
		policies:    make(map[string]*access.EscrowPolicy),
		protected:   make(map[string]bool),
		files:       make(map[string]string),
	}
}

// RegisterContact adds or replaces a contact record
func (d *Directory) RegisterContact(contact access.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[contact.ID] = &contact
}

// AddMembership records that the member belongs to the given subject
// (a group, role, trust level, or relationship).
func (d *Directory) AddMembership(subject access.Subject, memberID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := subjectKey(subject)
	if d.memberships[key] == nil {
		d.memberships[key] = make(map[string]bool)
	}
	d.memberships[key][memberID] = true
}

// RegisterFile records a file and the key protecting it
func (d *Directory) RegisterFile(fileID, keyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[fileID] = keyID
}

// SetEscrowPolicy attaches a (t, n) escrow policy to a key and marks the key
// escrow-protected
func (d *Directory) SetEscrowPolicy(policy access.EscrowPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policies[policy.KeyID] = &policy
	d.protected[policy.KeyID] = true
}

// ResolveContact implements access.IdentityResolver
func (d *Directory) ResolveContact(ctx context.Context, contactID string) (*access.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contact, ok := d.contacts[contactID]
	if !ok {
		return nil, access.NewNotFound("contact", contactID)
	}
	copied := *contact
	return &copied, nil
}

// IsMember implements access.IdentityResolver
func (d *Directory) IsMember(ctx context.Context, beneficiaryID string, subject access.Subject) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.memberships[subjectKey(subject)]
	if !ok {
		return false, nil
	}
	return members[beneficiaryID], nil
}

// EscrowPolicy implements access.KeyManager
func (d *Directory) EscrowPolicy(ctx context.Context, keyID string) (*access.EscrowPolicy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	policy, ok := d.policies[keyID]
	if !ok {
		return nil, access.NewNotFound("escrow policy", keyID)
	}
	copied := *policy
	copied.TrusteeIDs = append([]string(nil), policy.TrusteeIDs...)
	return &copied, nil
}

// IsEscrowProtected implements access.KeyManager
func (d *Directory) IsEscrowProtected(ctx context.Context, keyID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.protected[keyID], nil
}

// ReleaseKey implements access.KeyManager. The returned handle is an opaque
// one-time reference the storage layer exchanges for the key material.
func (d *Directory) ReleaseKey(ctx context.Context, keyID string, recipientID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.policies[keyID]; !ok && !d.knownKey(keyID) {
		return "", access.NewNotFound("key", keyID)
	}
	return uuid.New().String(), nil
}

// FileExists implements access.StorageService
func (d *Directory) FileExists(ctx context.Context, fileID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[fileID]
	return ok, nil
}

// KeyIDForFile implements access.StorageService
func (d *Directory) KeyIDForFile(ctx context.Context, fileID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keyID, ok := d.files[fileID]
	if !ok {
		return "", access.NewNotFound("file", fileID)
	}
	return keyID, nil
}

// knownKey reports whether any registered file references the key. Callers
// must hold the read lock.
func (d *Directory) knownKey(keyID string) bool {
	for _, id := range d.files {
		if id == keyID {
			return true
		}
	}
	return false
}

func subjectKey(subject access.Subject) string {
	return string(subject.Kind) + ":" + subject.Identifier
}

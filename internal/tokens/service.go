package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
	"github.com/rubenvitt/r-gone-sub007/pkg/repository"
)

// ReleaseAuthorizer gates key release for escrow-protected keys. Release is
// authorized only through a completed recovery workflow.
type ReleaseAuthorizer interface {
	AuthorizeKeyRelease(ctx context.Context, keyID, recipientID string) error
}

// Service owns the emergency token lifecycle: generation, activation,
// consumption, refresh, and revocation. The bearer secret is visible exactly
// once per issuance or refresh; only its bcrypt hash is stored.
type Service struct {
	tokens     repository.TokenRepositoryInterface
	identity   access.IdentityResolver
	storage    access.StorageService
	keys       access.KeyManager
	releases   ReleaseAuthorizer
	assertions *Assertions
	notifier   access.Notifier
	audit      access.AuditSink
	config     config.TokenConfig
	logger     *logger.Logger
}

// NewService creates a new emergency token service
func NewService(
	tokens repository.TokenRepositoryInterface,
	identity access.IdentityResolver,
	storage access.StorageService,
	keys access.KeyManager,
	releases ReleaseAuthorizer,
	assertions *Assertions,
	notifier access.Notifier,
	audit access.AuditSink,
	cfg config.TokenConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		tokens:     tokens,
		identity:   identity,
		storage:    storage,
		keys:       keys,
		releases:   releases,
		assertions: assertions,
		notifier:   notifier,
		audit:      audit,
		config:     cfg,
		logger:     log,
	}
}

// GenerateTokenInput carries the parameters for issuing an emergency token.
// Zero ExpirationHours or MaxUses fall back to the configured defaults.
type GenerateTokenInput struct {
	OwnerID         string             `json:"owner_id"`
	ContactID       string             `json:"contact_id"`
	FileIDs         []string           `json:"file_ids,omitempty"`
	AccessLevel     access.AccessLevel `json:"access_level"`
	ExpirationHours int                `json:"expiration_hours,omitempty"`
	MaxUses         int                `json:"max_uses,omitempty"`
	IPRestrictions  []string           `json:"ip_restrictions,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// GenerateToken issues a new emergency token for a trusted contact and
// returns the bearer secret alongside the share URL. The secret is not
// recoverable afterwards.
func (s *Service) GenerateToken(ctx context.Context, input GenerateTokenInput) (*access.TokenGrant, error) {
	if err := s.validateGenerateInput(ctx, &input); err != nil {
		return nil, err
	}

	expirationHours := input.ExpirationHours
	if expirationHours == 0 {
		expirationHours = s.config.DefaultExpirationHours
	}
	maxUses := input.MaxUses
	if maxUses == 0 {
		maxUses = s.config.DefaultMaxUses
	}

	secret, hash, err := newBearerSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := &access.EmergencyToken{
		ID:             uuid.New().String(),
		OwnerID:        input.OwnerID,
		ContactID:      input.ContactID,
		FileIDs:        input.FileIDs,
		AccessLevel:    input.AccessLevel,
		SecretHash:     hash,
		ExpiresAt:      now.Add(time.Duration(expirationHours) * time.Hour),
		MaxUses:        maxUses,
		IPRestrictions: input.IPRestrictions,
		Metadata:       input.Metadata,
		CreatedAt:      now,
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"token_id":     token.ID,
		"owner_id":     token.OwnerID,
		"contact_id":   token.ContactID,
		"access_level": token.AccessLevel,
		"expires_at":   token.ExpiresAt,
		"max_uses":     token.MaxUses,
	}).Info("Generated emergency token")
	s.recordAudit(ctx, input.OwnerID, "token.generate", token.ID, "success", map[string]interface{}{
		"contact_id":   token.ContactID,
		"access_level": token.AccessLevel,
	})
	s.notify(ctx, token.ContactID, "token.issued", "Emergency access prepared for you", map[string]string{
		"token_id": token.ID,
	})

	return &access.TokenGrant{
		TokenID:      token.ID,
		BearerSecret: secret,
		URL:          s.config.ShareBaseURL + "/" + token.ID,
		Token:        token,
	}, nil
}

func (s *Service) validateGenerateInput(ctx context.Context, input *GenerateTokenInput) error {
	var validationErrors access.ValidationErrors

	if input.OwnerID == "" {
		validationErrors.Add("owner_id", input.OwnerID, "Owner id is required")
	}
	if input.ContactID == "" {
		validationErrors.Add("contact_id", input.ContactID, "Contact id is required")
	}
	if !recognizedAccessLevel(input.AccessLevel) {
		validationErrors.Add("access_level", string(input.AccessLevel), "Unrecognized access level")
	}
	if input.ExpirationHours != 0 &&
		(input.ExpirationHours < access.MinExpirationHours || input.ExpirationHours > access.MaxExpirationHours) {
		validationErrors.Add("expiration_hours", strconv.Itoa(input.ExpirationHours), "Expiration must be between 1 hour and 1 year")
	}
	if input.MaxUses != 0 &&
		(input.MaxUses < access.MinTokenUses || input.MaxUses > access.MaxTokenUses) {
		validationErrors.Add("max_uses", strconv.Itoa(input.MaxUses), "Max uses must be between 1 and 1000")
	}
	if validationErrors.HasErrors() {
		return validationErrors.AsInvalidInput()
	}

	contact, err := s.identity.ResolveContact(ctx, input.ContactID)
	if err != nil {
		return err
	}
	if !contact.Active {
		return access.NewPreconditionFailed("contact is not active").WithDetail("contact_id", input.ContactID)
	}

	for _, fileID := range input.FileIDs {
		exists, err := s.storage.FileExists(ctx, fileID)
		if err != nil {
			return access.NewInternal("file existence check failed", err).WithDetail("file_id", fileID)
		}
		if !exists {
			return access.NewNotFound("file", fileID)
		}
	}
	return nil
}

// ActivateToken marks a token active after the bearer first presents the
// secret. Activation is idempotent; it never counts as a use.
func (s *Service) ActivateToken(ctx context.Context, tokenID, secret string) (*access.EmergencyToken, error) {
	token, err := s.authenticate(ctx, tokenID, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if token.IsRevoked() {
		return nil, access.NewRevoked("token has been revoked").WithDetail("reason", token.RevokedReason)
	}
	if token.IsExpired(now) {
		return nil, access.NewExpired("token has expired").WithDetail("expired_at", token.ExpiresAt)
	}
	if token.IsActivated() {
		return token, nil
	}

	token.ActivatedAt = &now
	if err := s.tokens.Update(ctx, token); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"token_id":   token.ID,
		"contact_id": token.ContactID,
	}).Info("Activated emergency token")
	s.recordAudit(ctx, token.ContactID, "token.activate", token.ID, "success", nil)
	s.notify(ctx, token.OwnerID, "token.activated", "Your emergency token was activated", map[string]string{
		"token_id": token.ID,
	})

	return token, nil
}

// ConsumeResult is returned from a successful token consumption: the updated
// token, a short-lived signed assertion, and the released key handles per file.
type ConsumeResult struct {
	Token      *access.EmergencyToken `json:"token"`
	Assertion  string                 `json:"assertion"`
	KeyHandles map[string]string      `json:"key_handles,omitempty"`
	UsesLeft   int                    `json:"uses_left"`
}

// ConsumeToken spends one use of an activated token. Full-access tokens over
// escrow-protected keys are gated behind a completed recovery workflow before
// any use is burned.
func (s *Service) ConsumeToken(ctx context.Context, tokenID, secret, ipAddress string) (*ConsumeResult, error) {
	token, err := s.authenticate(ctx, tokenID, secret)
	if err != nil {
		s.recordAudit(ctx, "", "token.consume", tokenID, "denied", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	if !ipAllowed(token.IPRestrictions, ipAddress) {
		s.logger.Security("token_ip_rejected", token.ContactID, map[string]interface{}{
			"token_id":   token.ID,
			"ip_address": ipAddress,
		})
		return nil, access.NewForbidden("request origin is not permitted for this token")
	}

	keyHandles, err := s.releaseKeys(ctx, token)
	if err != nil {
		return nil, err
	}

	consumed, err := s.tokens.Consume(ctx, tokenID, time.Now())
	if err != nil {
		s.recordAudit(ctx, token.ContactID, "token.consume", tokenID, "denied", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	assertion, err := s.assertions.Generate(consumed)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"token_id":     consumed.ID,
		"contact_id":   consumed.ContactID,
		"current_uses": consumed.CurrentUses,
		"max_uses":     consumed.MaxUses,
	}).Info("Consumed emergency token")
	s.recordAudit(ctx, consumed.ContactID, "token.consume", consumed.ID, "success", map[string]interface{}{
		"current_uses": consumed.CurrentUses,
		"ip_address":   ipAddress,
	})

	return &ConsumeResult{
		Token:      consumed,
		Assertion:  assertion,
		KeyHandles: keyHandles,
		UsesLeft:   consumed.MaxUses - consumed.CurrentUses,
	}, nil
}

// releaseKeys resolves and releases the keys protecting the token's files.
// Escrow-protected keys require a completed recovery workflow; that check
// happens before the token use is consumed, so an unauthorized release never
// burns a use. Only full access releases keys.
func (s *Service) releaseKeys(ctx context.Context, token *access.EmergencyToken) (map[string]string, error) {
	if token.AccessLevel != access.AccessLevelFull || len(token.FileIDs) == 0 {
		return nil, nil
	}

	handles := make(map[string]string, len(token.FileIDs))
	for _, fileID := range token.FileIDs {
		keyID, err := s.storage.KeyIDForFile(ctx, fileID)
		if err != nil {
			return nil, access.NewInternal("key lookup failed", err).WithDetail("file_id", fileID)
		}

		protected, err := s.keys.IsEscrowProtected(ctx, keyID)
		if err != nil {
			return nil, access.NewInternal("escrow check failed", err).WithDetail("key_id", keyID)
		}
		if protected {
			if err := s.releases.AuthorizeKeyRelease(ctx, keyID, token.ContactID); err != nil {
				return nil, err
			}
		}

		handle, err := s.keys.ReleaseKey(ctx, keyID, token.ContactID)
		if err != nil {
			return nil, access.NewInternal("key release failed", err).WithDetail("key_id", keyID)
		}
		handles[fileID] = handle
	}
	return handles, nil
}

// RefreshToken extends an active token's window and rotates its bearer
// secret. The previous secret stops working immediately. Tokens at a
// non-refreshable access level cannot be extended.
func (s *Service) RefreshToken(ctx context.Context, tokenID, secret string) (*access.TokenGrant, error) {
	token, err := s.authenticate(ctx, tokenID, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if token.IsRevoked() {
		return nil, access.NewRevoked("token has been revoked").WithDetail("reason", token.RevokedReason)
	}
	if token.IsExpired(now) {
		return nil, access.NewExpired("token has expired").WithDetail("expired_at", token.ExpiresAt)
	}
	for _, level := range s.config.NonRefreshableLevels {
		if access.AccessLevel(level) == token.AccessLevel {
			return nil, access.NewPreconditionFailed("tokens at this access level cannot be refreshed").
				WithDetail("access_level", string(token.AccessLevel))
		}
	}

	newSecret, hash, err := newBearerSecret()
	if err != nil {
		return nil, err
	}

	token.SecretHash = hash
	token.ExpiresAt = token.ExpiresAt.Add(time.Duration(s.config.RefreshExtensionHours) * time.Hour)
	token.RefreshedAt = &now

	if err := s.tokens.Update(ctx, token); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"token_id":   token.ID,
		"expires_at": token.ExpiresAt,
	}).Info("Refreshed emergency token")
	s.recordAudit(ctx, token.ContactID, "token.refresh", token.ID, "success", map[string]interface{}{
		"expires_at": token.ExpiresAt,
	})

	return &access.TokenGrant{
		TokenID:      token.ID,
		BearerSecret: newSecret,
		URL:          s.config.ShareBaseURL + "/" + token.ID,
		Token:        token,
	}, nil
}

// RevokeToken terminally revokes a token. Revoking a token already in a
// terminal state is a no-op reporting the stored state.
func (s *Service) RevokeToken(ctx context.Context, tokenID, actorID, reason string) (*access.EmergencyToken, error) {
	token, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if token.OwnerID != actorID {
		return nil, access.NewForbidden("only the token owner may revoke it")
	}
	if token.IsRevoked() {
		return token, nil
	}

	now := time.Now()
	token.RevokedAt = &now
	token.RevokedReason = reason

	if err := s.tokens.Update(ctx, token); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"token_id": tokenID,
		"actor_id": actorID,
	}).Warn("Revoked emergency token")
	s.recordAudit(ctx, actorID, "token.revoke", tokenID, "success", map[string]interface{}{
		"reason": reason,
	})

	return token, nil
}

// GetToken retrieves a token by id
func (s *Service) GetToken(ctx context.Context, tokenID string) (*access.EmergencyToken, error) {
	return s.tokens.GetByID(ctx, tokenID)
}

// ListTokens lists tokens matching the filter
func (s *Service) ListTokens(ctx context.Context, filter access.TokenFilter) ([]*access.EmergencyToken, error) {
	return s.tokens.List(ctx, filter)
}

// VerifyAssertion validates a signed assertion previously issued on
// consumption and returns its payload.
func (s *Service) VerifyAssertion(assertion string) (*access.TokenAssertion, error) {
	return s.assertions.Verify(assertion)
}

// authenticate loads the token and checks the presented bearer secret
// against the stored hash.
func (s *Service) authenticate(ctx context.Context, tokenID, secret string) (*access.EmergencyToken, error) {
	token, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(token.SecretHash, []byte(secret)); err != nil {
		return nil, access.NewUnauthorized("invalid bearer secret")
	}
	return token, nil
}

// newBearerSecret generates a 256-bit random secret and its bcrypt hash
func newBearerSecret() (string, []byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, access.NewInternal("failed to generate bearer secret", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, access.NewInternal("failed to hash bearer secret", err)
	}
	return secret, hash, nil
}

func ipAllowed(restrictions []string, ipAddress string) bool {
	if len(restrictions) == 0 {
		return true
	}
	for _, allowed := range restrictions {
		if allowed == ipAddress {
			return true
		}
	}
	return false
}

func recognizedAccessLevel(level access.AccessLevel) bool {
	for _, l := range access.AccessLevels {
		if l == level {
			return true
		}
	}
	return false
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

package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
)

// assertionClaims is the JWT claim set carried by a signed token assertion
type assertionClaims struct {
	TokenID     string   `json:"token_id"`
	ContactID   string   `json:"contact_id"`
	AccessLevel string   `json:"access_level"`
	FileIDs     []string `json:"file_ids,omitempty"`
	jwt.RegisteredClaims
}

// Assertions issues and verifies the short-lived signed assertions handed out
// on token consumption. An assertion proves a recent successful consumption
// without another storage round-trip; its lifetime is deliberately much
// shorter than the token's.
type Assertions struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewAssertions creates an assertion signer from configuration
func NewAssertions(cfg config.JWTConfig) *Assertions {
	return &Assertions{
		secret: []byte(cfg.SecretKey),
		ttl:    time.Duration(cfg.AssertionTTLMinutes) * time.Minute,
		issuer: cfg.Issuer,
	}
}

// Generate signs a short-lived assertion for a just-consumed token
func (a *Assertions) Generate(token *access.EmergencyToken) (string, error) {
	now := time.Now()
	claims := assertionClaims{
		TokenID:     token.ID,
		ContactID:   token.ContactID,
		AccessLevel: string(token.AccessLevel),
		FileIDs:     token.FileIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   token.ContactID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", access.NewInternal("failed to sign assertion", err)
	}
	return signed, nil
}

// Verify parses and validates a signed assertion and returns its payload.
// Expired or tampered assertions are rejected as unauthorized.
func (a *Assertions) Verify(assertion string) (*access.TokenAssertion, error) {
	var claims assertionClaims
	parsed, err := jwt.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, access.NewUnauthorized("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, access.NewUnauthorized("invalid assertion").WithCause(err)
	}
	if !parsed.Valid {
		return nil, access.NewUnauthorized("invalid assertion")
	}

	return &access.TokenAssertion{
		TokenID:     claims.TokenID,
		ContactID:   claims.ContactID,
		AccessLevel: access.AccessLevel(claims.AccessLevel),
		FileIDs:     claims.FileIDs,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/pkg/access"
	"github.com/rubenvitt/r-gone-sub007/pkg/config"
)

func testToken() *access.EmergencyToken {
	return &access.EmergencyToken{
		ID:          "token-1",
		OwnerID:     "owner-1",
		ContactID:   "contact-1",
		FileIDs:     []string{"file-1", "file-2"},
		AccessLevel: access.AccessLevelDownload,
		ExpiresAt:   time.Now().Add(72 * time.Hour),
		MaxUses:     10,
	}
}

func TestAssertionRoundTrip(t *testing.T) {
	assertions := NewAssertions(config.JWTConfig{
		SecretKey:           "test-secret-key",
		AssertionTTLMinutes: 15,
		Issuer:              "disclosure-engine",
	})

	signed, err := assertions.Generate(testToken())
	require.NoError(t, err)

	payload, err := assertions.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, "token-1", payload.TokenID)
	assert.Equal(t, "contact-1", payload.ContactID)
	assert.Equal(t, access.AccessLevelDownload, payload.AccessLevel)
	assert.Equal(t, []string{"file-1", "file-2"}, payload.FileIDs)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), payload.ExpiresAt, time.Minute)
}

func TestAssertionRejectsTampering(t *testing.T) {
	assertions := NewAssertions(config.JWTConfig{
		SecretKey:           "test-secret-key",
		AssertionTTLMinutes: 15,
		Issuer:              "disclosure-engine",
	})

	signed, err := assertions.Generate(testToken())
	require.NoError(t, err)

	_, err = assertions.Verify(signed + "x")
	assert.True(t, access.IsType(err, access.ErrorTypeUnauthorized))

	other := NewAssertions(config.JWTConfig{
		SecretKey:           "a-different-secret",
		AssertionTTLMinutes: 15,
		Issuer:              "disclosure-engine",
	})
	_, err = other.Verify(signed)
	assert.True(t, access.IsType(err, access.ErrorTypeUnauthorized))
}

func TestAssertionRejectsWrongIssuer(t *testing.T) {
	signer := NewAssertions(config.JWTConfig{
		SecretKey:           "test-secret-key",
		AssertionTTLMinutes: 15,
		Issuer:              "someone-else",
	})
	verifier := NewAssertions(config.JWTConfig{
		SecretKey:           "test-secret-key",
		AssertionTTLMinutes: 15,
		Issuer:              "disclosure-engine",
	})

	signed, err := signer.Generate(testToken())
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.True(t, access.IsType(err, access.ErrorTypeUnauthorized))
}

func TestExpiredAssertionRejected(t *testing.T) {
	assertions := NewAssertions(config.JWTConfig{
		SecretKey:           "test-secret-key",
		AssertionTTLMinutes: 0,
		Issuer:              "disclosure-engine",
	})

	signed, err := assertions.Generate(testToken())
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = assertions.Verify(signed)
	assert.True(t, access.IsType(err, access.ErrorTypeUnauthorized))
}

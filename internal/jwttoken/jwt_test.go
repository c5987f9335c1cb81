package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "merit/pkg/domain"
)

func newSvc() *JWTService {
	return NewJWTService("test-signing-key-32-bytes-long!!", "merit", "merit-validators")
}

// TestJWT_RoundTrip validates generation and validation against the same
// service configuration.
func TestJWT_RoundTrip(t *testing.T) {
	svc := newSvc()
	now := time.Now()

	token, err := svc.GenerateToken("validator-1", time.Hour, now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "validator-1", claims.ValidatorID)
	assert.Equal(t, "merit", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "token must carry a unique JTI")

	validatorID, err := svc.ExtractValidatorID(token)
	require.NoError(t, err)
	assert.Equal(t, id.ValidatorID("validator-1"), validatorID)
}

// TestJWT_Rejections covers the failure modes the auth middleware depends on.
func TestJWT_Rejections(t *testing.T) {
	svc := newSvc()

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.GenerateToken("validator-1", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		other := NewJWTService("another-signing-key-entirely!!!!", "merit", "merit-validators")
		token, err := other.GenerateToken("validator-1", time.Hour, time.Now())
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("token for a different audience", func(t *testing.T) {
		other := NewJWTService("test-signing-key-32-bytes-long!!", "merit", "somewhere-else")
		token, err := other.GenerateToken("validator-1", time.Hour, time.Now())
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("unsigned token is rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ValidatorID: "validator-1"})
		token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		require.Error(t, err)
	})
}

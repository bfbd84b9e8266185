package wsapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwtClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHMACAuthenticator_ValidTokenYieldsClaims(t *testing.T) {
	auth, err := NewHMACAuthenticator("top-secret")
	require.NoError(t, err)

	token := signToken(t, "top-secret", jwtClaims{
		UserID:  "u1",
		Email:   "u1@example.com",
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.True(t, claims.IsAdmin)
}

func TestHMACAuthenticator_WrongSecretRejected(t *testing.T) {
	auth, err := NewHMACAuthenticator("top-secret")
	require.NoError(t, err)

	token := signToken(t, "wrong-secret", jwtClaims{UserID: "u1"})

	_, err = auth.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestHMACAuthenticator_MissingUserIDRejected(t *testing.T) {
	auth, err := NewHMACAuthenticator("top-secret")
	require.NoError(t, err)

	token := signToken(t, "top-secret", jwtClaims{})

	_, err = auth.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestHMACAuthenticator_RejectsMalformedToken(t *testing.T) {
	auth, err := NewHMACAuthenticator("top-secret")
	require.NoError(t, err)

	_, err = auth.Authenticate(context.Background(), "not.a.jwt")
	require.Error(t, err)
}

func TestNewHMACAuthenticator_EmptySecretRejected(t *testing.T) {
	_, err := NewHMACAuthenticator("")
	require.Error(t, err)
}

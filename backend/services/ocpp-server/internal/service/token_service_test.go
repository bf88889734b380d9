package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("secret", time.Minute)
	raw, err := tokens.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestTokenRejectsOtherSecret(t *testing.T) {
	raw, err := NewTokenService("secret", time.Minute).GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	_, err = NewTokenService("other", time.Minute).ValidateToken(raw)
	assert.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	tokens := NewTokenService("secret", time.Minute)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = tokens.ValidateToken(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenRequiresSubject(t *testing.T) {
	_, err := NewTokenService("secret", 0).GenerateToken("", RoleAdmin)
	assert.Error(t, err)
}

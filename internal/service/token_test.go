package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyToken(t *testing.T) {
	svc := NewTokenService("secret")

	tokenStr := signToken(t, "secret", jwt.MapClaims{
		"sub":   "ops-1",
		"email": "ops@example.com",
		"role":  "admin",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := svc.VerifyToken(tokenStr)
	require.NoError(t, err)
	require.Equal(t, "ops-1", claims.Sub)
	require.Equal(t, "ops@example.com", claims.Email)
	require.Equal(t, "admin", claims.Role)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	svc := NewTokenService("secret")

	tokenStr := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "ops-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := svc.VerifyToken(tokenStr)
	require.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc := NewTokenService("secret")

	tokenStr := signToken(t, "secret", jwt.MapClaims{
		"sub": "ops-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := svc.VerifyToken(tokenStr)
	require.Error(t, err)
}

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := NewJWTVerifier("secret")
	token := signToken(t, "secret", jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	userID, err := v.Verify(token)

	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestVerifyRejections(t *testing.T) {
	v := NewJWTVerifier("secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{
			name: "wrong secret",
			token: signToken(t, "other", jwt.MapClaims{
				"user_id": 42,
				"exp":     time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired token",
			token: signToken(t, "secret", jwt.MapClaims{
				"user_id": 42,
				"exp":     time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "missing user id",
			token: signToken(t, "secret", jwt.MapClaims{
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrAuthRejected)
		})
	}
}

func TestVerifyRejectsNonHMACAlgorithm(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": 42,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(token)

	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestTokenFromRequest(t *testing.T) {
	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/conversations", nil)
		r.Header.Set("Authorization", "Bearer abc123")
		assert.Equal(t, "abc123", TokenFromRequest(r))
	})

	t.Run("malformed header yields nothing", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/conversations", nil)
		r.Header.Set("Authorization", "abc123")
		assert.Empty(t, TokenFromRequest(r))
	})

	t.Run("query parameter fallback for websocket handshakes", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/group/1?token=abc123", nil)
		assert.Equal(t, "abc123", TokenFromRequest(r))
	})

	t.Run("header wins over query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws/group/1?token=fromquery", nil)
		r.Header.Set("Authorization", "Bearer fromheader")
		assert.Equal(t, "fromheader", TokenFromRequest(r))
	})
}

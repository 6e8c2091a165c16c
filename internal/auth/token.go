package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrAuthRejected = errors.New("authentication rejected")

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (int, error)
}

// JWTVerifier validates HS256 tokens carrying a user_id claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the user id. A missing,
// malformed, expired or unsigned token yields ErrAuthRejected.
func (v *JWTVerifier) Verify(tokenString string) (int, error) {
	if tokenString == "" {
		return 0, ErrAuthRejected
	}

	parsed := claims{}
	token, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrAuthRejected
	}
	if parsed.UserID == 0 {
		return 0, ErrAuthRejected
	}
	return parsed.UserID, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the token query parameter for websocket handshakes.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

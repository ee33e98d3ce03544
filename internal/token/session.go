package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dtroode/moodist-server/internal/model"
)

// SessionClaims represents login session claims. The subject is the user key
// and Stamp the credential stamp of the account at login.
type SessionClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
	Stamp     string `json:"pwd,omitempty"`
}

// Sessions implements model.SessionManager backed by symmetric HMAC.
type Sessions struct {
	secretKey string
	ttl       time.Duration
}

var _ model.SessionManager = (*Sessions)(nil)

const typeSession = "session"

// NewSessions creates a session token manager with the provided secret key and lifetime.
func NewSessions(secretKey string, ttl time.Duration) *Sessions {
	return &Sessions{secretKey: secretKey, ttl: ttl}
}

// Issue creates a session token for the user with the given key and credential stamp.
func (s *Sessions) Issue(userKey, stamp string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: typeSession,
		Stamp:     stamp,
	})

	tokenString, err := token.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Parse validates a session token and extracts the user key and credential stamp.
func (s *Sessions) Parse(tokenString string) (string, string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to parse session token: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("session token is invalid")
	}
	if claims.TokenType != typeSession {
		return "", "", fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("session token has no subject")
	}
	return claims.Subject, claims.Stamp, nil
}

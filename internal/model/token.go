package model

import "time"

// TokenPurpose separates verification tokens from reset tokens.
type TokenPurpose string

const (
	PurposeVerify TokenPurpose = "verify"
	PurposeReset  TokenPurpose = "reset"
)

// TokenClaims is the payload of a verification or reset token.
type TokenClaims struct {
	IssuedAt time.Time
	Email    string
	Role     Role
	Purpose  TokenPurpose
	CodeHash string
}

// TokenCodec issues and redeems signed, expiring account tokens.
type TokenCodec interface {
	Issue(claims TokenClaims, ttl time.Duration) (string, error)
	Redeem(token string, purpose TokenPurpose, maxAge time.Duration) (TokenClaims, error)
	// Decode checks the signature only.
	Decode(token string) (TokenClaims, error)
	HashCode(code string) string
	MatchCode(claims TokenClaims, code string) bool
}

// SessionManager issues and parses login session tokens.
type SessionManager interface {
	Issue(userKey, stamp string) (token string, expiresAt time.Time, err error)
	Parse(token string) (userKey, stamp string, err error)
}

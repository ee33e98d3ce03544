package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dtroode/moodist-server/internal/model"
)

// accountClaims is the JWT payload of verification and reset tokens.
type accountClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Role     string `json:"role"`
	Purpose  string `json:"purpose"`
	CodeHash string `json:"code_hash,omitempty"`
}

// Codec implements model.TokenCodec with HMAC-signed JWTs.
type Codec struct {
	key []byte
	now func() time.Time
}

var _ model.TokenCodec = (*Codec)(nil)

// NewCodec creates a Codec. The signing key mixes the application secret with
// the fixed application salt, so changing either invalidates issued tokens.
func NewCodec(secret, salt string) *Codec {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(salt))
	return &Codec{key: mac.Sum(nil), now: time.Now}
}

// Issue signs claims valid for ttl from now.
func (c *Codec) Issue(claims model.TokenClaims, ttl time.Duration) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    claims.Email,
		Role:     string(claims.Role),
		Purpose:  string(claims.Purpose),
		CodeHash: claims.CodeHash,
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Purpose, err)
	}
	return signed, nil
}

// Redeem verifies the signature, the purpose and that the token is younger than maxAge.
func (c *Codec) Redeem(tokenString string, purpose model.TokenPurpose, maxAge time.Duration) (model.TokenClaims, error) {
	claims, err := c.parse(tokenString, true)
	if err != nil {
		return model.TokenClaims{}, err
	}
	if claims.Purpose != purpose {
		return model.TokenClaims{}, model.ErrPurposeMismatch
	}
	if c.now().After(claims.IssuedAt.Add(maxAge)) {
		return model.TokenClaims{}, model.ErrTokenExpired
	}
	return claims, nil
}

// Decode verifies the signature only; expired tokens are still decoded.
func (c *Codec) Decode(tokenString string) (model.TokenClaims, error) {
	return c.parse(tokenString, false)
}

func (c *Codec) parse(tokenString string, checkExpiry bool) (model.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &accountClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	}, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.TokenClaims{}, model.ErrTokenExpired
	default:
		return model.TokenClaims{}, fmt.Errorf("%w: %v", model.ErrInvalidSignature, err)
	}

	if claims.IssuedAt == nil || claims.Email == "" {
		return model.TokenClaims{}, model.ErrInvalidSignature
	}

	return model.TokenClaims{
		IssuedAt: claims.IssuedAt.Time,
		Email:    claims.Email,
		Role:     model.Role(claims.Role),
		Purpose:  model.TokenPurpose(claims.Purpose),
		CodeHash: claims.CodeHash,
	}, nil
}

// HashCode returns the keyed digest of a one-time code as carried in token claims.
func (c *Codec) HashCode(code string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// MatchCode reports whether code belongs to claims, in constant time.
func (c *Codec) MatchCode(claims model.TokenClaims, code string) bool {
	if claims.CodeHash == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claims.CodeHash), []byte(c.HashCode(code))) == 1
}

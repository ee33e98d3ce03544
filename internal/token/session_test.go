package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSessions_Roundtrip(t *testing.T) {
	s := NewSessions("secret", time.Hour)

	tok, expiresAt, err := s.Issue("patient:a@x.com", "stamp1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	key, stamp, err := s.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "patient:a@x.com", key)
	require.Equal(t, "stamp1", stamp)
}

func TestSessions_EmptyStamp(t *testing.T) {
	s := NewSessions("secret", time.Hour)

	tok, _, err := s.Issue("patient:a@x.com", "")
	require.NoError(t, err)

	_, stamp, err := s.Parse(tok)
	require.NoError(t, err)
	require.Empty(t, stamp)
}

func TestSessions_WrongSecret(t *testing.T) {
	tok, _, err := NewSessions("secret", time.Hour).Issue("patient:a@x.com", "")
	require.NoError(t, err)

	_, _, err = NewSessions("other", time.Hour).Parse(tok)
	require.Error(t, err)
}

func TestSessions_Expired(t *testing.T) {
	s := NewSessions("secret", -time.Minute)

	tok, _, err := s.Issue("patient:a@x.com", "")
	require.NoError(t, err)

	_, _, err = s.Parse(tok)
	require.Error(t, err)
}

func TestSessions_TokenType_Mismatch(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "patient:a@x.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: "refresh",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, _, err = NewSessions("secret", time.Hour).Parse(tok)
	require.Error(t, err)
}

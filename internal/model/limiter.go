package model

import "context"

// Attempt limiter scopes.
const (
	ScopeVerify        = "verify"
	ScopeLogin         = "login"
	ScopeResetPassword = "reset_password"
)

// AttemptLimiter decides whether another attempt for key is allowed in scope.
// It is a policy hook; the server ships with NoopLimiter.
type AttemptLimiter interface {
	Allow(ctx context.Context, scope, key string) (bool, error)
}

// NoopLimiter allows every attempt.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string, string) (bool, error) {
	return true, nil
}

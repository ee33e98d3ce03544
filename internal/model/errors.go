package model

import "errors"

// Validation errors.
var (
	ErrInvalidRole       = errors.New("invalid user role")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidPassword   = errors.New("password does not meet requirements")
	ErrInvalidIdentifier = errors.New("invalid unique id format")
	ErrSameIdentifier    = errors.New("new unique id must differ from current one")
	ErrInvalidInput      = errors.New("invalid input")
)

// Store errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyVerified   = errors.New("account already verified")
	ErrRevisionConflict  = errors.New("document revision conflict")
	ErrIdentifierTaken   = errors.New("unique id already claimed")
	ErrConnectionExists  = errors.New("connection already exists")
	ErrInvalidTransition = errors.New("invalid connection status transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Token and credential errors.
var (
	ErrInvalidSignature   = errors.New("token signature is invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrPurposeMismatch    = errors.New("token purpose mismatch")
	ErrInvalidToken       = errors.New("token is not valid for this account")
	ErrAlreadyUsed        = errors.New("token already used")
	ErrInvalidCode        = errors.New("invalid or expired code")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("operation not permitted for this user")
	ErrCorruptHash        = errors.New("stored password hash is malformed")
	ErrExhaustedAttempts  = errors.New("could not generate a free unique id")
	ErrRateLimited        = errors.New("too many attempts")
)

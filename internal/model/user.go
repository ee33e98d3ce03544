package model

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	// StatusPendingVerification is set until the email address is confirmed.
	StatusPendingVerification UserStatus = "pending_verification"
	// StatusVerified is set once the email address is confirmed.
	StatusVerified UserStatus = "verified"
	// StatusRevoked disables the account.
	StatusRevoked UserStatus = "revoked"
)

// UserDirectory is the role-partitioned user store.
//
// Every mutation is guarded by the revision the caller read and fails with
// ErrRevisionConflict when the stored document moved on.
type UserDirectory interface {
	// CreatePending inserts a pending record when expectedRev is zero, otherwise
	// overwrites the pending record at expectedRev. Verified records are never
	// overwritten (ErrAlreadyVerified).
	CreatePending(ctx context.Context, user PendingUser, expectedRev int64) (User, error)
	FindByEmail(ctx context.Context, role Role, email string) (User, error)
	// FindByIdentifier searches every partition.
	FindByIdentifier(ctx context.Context, uniqueID string) (User, error)
	IdentifierTaken(ctx context.Context, uniqueID string) (bool, error)
	ReissueToken(ctx context.Context, user User, token string, expiresAt time.Time) (User, error)
	// MarkVerified claims uniqueID globally and marks the record verified in one
	// atomic step. A claimed identifier yields ErrIdentifierTaken.
	MarkVerified(ctx context.Context, user User, uniqueID string) (User, error)
	// UpdatePassword replaces the password, clears any reset token and stamps
	// PasswordChangedAt, which ends every session issued before it.
	UpdatePassword(ctx context.Context, user User, passwordHash string) (User, error)
	// RehashPassword stores a new hash of the unchanged password.
	RehashPassword(ctx context.Context, user User, passwordHash string) (User, error)
	SetResetToken(ctx context.Context, user User, token string, expiresAt time.Time) (User, error)
	// RegenerateIdentifier claims newID, retires the current identifier and
	// revokes every live connection of the retired identifier with reason, all
	// in one atomic step. It returns the number of revoked connections. Retired
	// identifiers stay claimed and are never handed out again.
	RegenerateIdentifier(ctx context.Context, user User, newID, reason string) (User, int, error)
	Ping(ctx context.Context) error
}

// User is a stored account.
type User struct {
	VerifiedAt          *time.Time
	TokenExpiresAt      *time.Time
	ResetExpiresAt      *time.Time
	IdentifierChangedAt *time.Time
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Key                 string
	Role                Role
	Email               string
	PasswordHash        string
	Status              UserStatus
	VerificationToken   string
	ResetToken          string
	UniqueID            string
	Rev                 int64
	IsVerified          bool
}

// PendingUser holds the fields written by a (re-)registration.
type PendingUser struct {
	Role              Role
	Email             string
	PasswordHash      string
	VerificationToken string
	TokenExpiresAt    time.Time
}

// UserKey returns the document key of the record for role and email.
func UserKey(role Role, email string) string {
	return string(role) + ":" + email
}

// ParseUserKey splits a document key into its role and email.
func ParseUserKey(key string) (Role, string, error) {
	role, email, ok := strings.Cut(key, ":")
	if !ok || email == "" {
		return "", "", ErrInvalidInput
	}
	r := Role(role)
	if !r.Valid() {
		return "", "", ErrInvalidRole
	}
	return r, email, nil
}

// Pending reports whether the account still waits for email verification.
func (u User) Pending() bool {
	return u.Status == StatusPendingVerification && !u.IsVerified
}

// CredentialStamp identifies the current password generation. Sessions carry
// it and stop resolving once the password is changed.
func (u User) CredentialStamp() string {
	if u.PasswordChangedAt == nil {
		return ""
	}
	return strconv.FormatInt(u.PasswordChangedAt.UnixMicro(), 36)
}

// UserSummary is the public view of an account.
type UserSummary struct {
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UniqueID   string     `json:"unique_id,omitempty"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Status     UserStatus `json:"status"`
	IsVerified bool       `json:"is_verified"`
}

// Summary strips authentication material from u.
func (u User) Summary() UserSummary {
	return UserSummary{
		UniqueID:   u.UniqueID,
		Email:      u.Email,
		Role:       u.Role,
		Status:     u.Status,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
		VerifiedAt: u.VerifiedAt,
	}
}

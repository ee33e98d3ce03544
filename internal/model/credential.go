package model

import "context"

// PasswordHasher derives and checks stored password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns (false, nil) on mismatch and ErrCorruptHash for malformed hashes.
	Verify(password, encoded string) (bool, error)
	// NeedsUpgrade reports whether encoded was produced with other parameters or algorithm.
	NeedsUpgrade(encoded string) bool
	// DummyVerify spends the same work as Verify without a stored hash.
	DummyVerify(password string)
}

// IdentifierGenerator produces unique ids not yet claimed according to taken.
type IdentifierGenerator interface {
	Generate(ctx context.Context, taken func(ctx context.Context, candidate string) (bool, error)) (string, error)
}

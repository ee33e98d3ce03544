// Package password derives and verifies peppered argon2id password hashes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dtroode/moodist-server/internal/model"
)

const (
	saltLen = 16
	keyLen  = 32
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams match the cost the service has always used.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

func (p Params) withDefaults() Params {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	return p
}

// Hasher implements model.PasswordHasher with argon2id and an application pepper.
type Hasher struct {
	pepper string
	params Params
	dummy  string
}

var _ model.PasswordHasher = (*Hasher)(nil)

// NewHasher creates a Hasher. Zero fields of params are replaced with defaults.
func NewHasher(pepper string, params Params) (*Hasher, error) {
	h := &Hasher{pepper: pepper, params: params.withDefaults()}

	dummy, err := h.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	h.dummy = dummy

	return h, nil
}

// Hash returns the PHC encoding of password+pepper under a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey(h.peppered(password), salt, h.params.Time, h.params.Memory, h.params.Threads, keyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify checks password against an encoded hash. Legacy bcrypt hashes are
// accepted so accounts imported from older deployments can still log in.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), h.peppered(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", model.ErrCorruptHash, err)
		}
	}

	p, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(h.peppered(password), salt, p.Time, p.Memory, p.Threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade reports whether encoded should be rehashed with the current parameters.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	p, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return p != h.params
}

// DummyVerify burns one verification against a fixed hash.
func (h *Hasher) DummyVerify(password string) {
	_, _ = h.Verify(password, h.dummy)
}

func (h *Hasher) peppered(password string) []byte {
	return []byte(password + h.pepper)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

// decode parses $argon2id$v=19$m=65536,t=3,p=4$<salt>$<digest>.
func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return Params{}, nil, nil, fmt.Errorf("%w: unexpected segment count", model.ErrCorruptHash)
	}
	if parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported algorithm %q", model.ErrCorruptHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", model.ErrCorruptHash, err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %d", model.ErrCorruptHash, version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", model.ErrCorruptHash, err)
	}
	if threads == 0 || threads > 255 || time == 0 || memory == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: parameters out of range", model.ErrCorruptHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", model.ErrCorruptHash, err)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", model.ErrCorruptHash, err)
	}
	if len(digest) == 0 || len(digest) > 1024 {
		return Params{}, nil, nil, fmt.Errorf("%w: invalid digest length %d", model.ErrCorruptHash, len(digest))
	}

	return Params{Time: time, Memory: memory, Threads: uint8(threads)}, salt, digest, nil
}

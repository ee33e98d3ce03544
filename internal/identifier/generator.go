// Package identifier generates the six letter public ids handed to verified users.
package identifier

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/dtroode/moodist-server/internal/model"
)

const (
	// Length is the number of characters in an identifier.
	Length = 6
	// MaxAttempts bounds the number of candidates tried per Generate call.
	MaxAttempts = 20

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// largest multiple of len(alphabet) that fits in a byte
	rejectAbove = 256 - 256%len(alphabet)
)

// Generator draws uniformly distributed identifiers.
type Generator struct {
	rand io.Reader
}

var _ model.IdentifierGenerator = (*Generator)(nil)

// NewGenerator creates a Generator reading from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithSource creates a Generator reading randomness from r.
func NewGeneratorWithSource(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns the first candidate for which taken reports false.
// The result is advisory: the caller must still claim it atomically.
func (g *Generator) Generate(ctx context.Context, taken func(ctx context.Context, candidate string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate, err := g.candidate()
		if err != nil {
			return "", err
		}

		used, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check unique id: %w", err)
		}
		if !used {
			return candidate, nil
		}
	}

	return "", model.ErrExhaustedAttempts
}

func (g *Generator) candidate() (string, error) {
	var sb strings.Builder
	sb.Grow(Length)

	buf := make([]byte, Length*2)
	for sb.Len() < Length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
			if sb.Len() == Length {
				break
			}
		}
	}

	return sb.String(), nil
}

// Valid reports whether id is exactly six uppercase Latin letters.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return false
		}
	}
	return true
}

// Normalize trims and upper-cases a user supplied id.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

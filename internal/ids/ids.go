package ids

import (
	"context"
	"errors"
	"math/rand"

	"github.com/segmentio/ksuid"
)

const (
	// ShortIDLength is the length of public image identifiers.
	ShortIDLength = 6
	// MaxAttempts bounds the candidates tried for one identifier.
	MaxAttempts = 10

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrExhausted = errors.New("failed to generate unique id")

// New returns a sortable opaque id for users and sessions.
func New() string {
	return ksuid.New().String()
}

// ShortID draws ShortIDLength characters uniformly from the alphanumeric
// alphabet. The id is public, so a non-cryptographic source is enough.
func ShortID() string {
	buf := make([]byte, ShortIDLength)
	for i := range buf {
		buf[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(buf)
}

// IsShortID reports whether s has the shape of a public identifier.
func IsShortID(s string) bool {
	if len(s) != ShortIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// ExistsFunc asks the metadata store whether an id is taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

type Generator struct {
	Source      func() string
	MaxAttempts int
}

func NewGenerator() *Generator {
	return &Generator{Source: ShortID, MaxAttempts: MaxAttempts}
}

// Unique returns a candidate that exists reports as free.
func (g *Generator) Unique(ctx context.Context, exists ExistsFunc) (string, error) {
	return g.Allocator(exists).Next(ctx)
}

// Allocator hands out free candidates against one shared attempt budget,
// so collisions found after the existence check still count toward it.
func (g *Generator) Allocator(exists ExistsFunc) *Allocator {
	source := g.Source
	if source == nil {
		source = ShortID
	}
	budget := g.MaxAttempts
	if budget <= 0 {
		budget = MaxAttempts
	}
	return &Allocator{source: source, exists: exists, remaining: budget}
}

type Allocator struct {
	source    func() string
	exists    ExistsFunc
	remaining int
}

// Next consumes attempts until a free candidate turns up. A lookup error
// is returned as is; the candidate is never assumed free.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	for a.remaining > 0 {
		a.remaining--
		id := a.source()
		taken, err := a.exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrExhausted
}

// Remaining is the number of attempts left.
func (a *Allocator) Remaining() int {
	return a.remaining
}

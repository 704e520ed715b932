package prime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/go-logr/logr"
)

// DefaultRounds is the number of Miller-Rabin rounds applied to each candidate.
// big.Int.ProbablyPrime additionally runs a Baillie-PSW test, so a composite
// passes with probability at most 4^-DefaultRounds against adversarial input.
const DefaultRounds = 20

var ErrInvalidBitLength = errors.New("prime bit length must be at least 2")

// Source produces probable primes of an exact bit length.
type Source interface {
	Prime(ctx context.Context, bits int) (*big.Int, error)
}

type SourceFunc func(ctx context.Context, bits int) (*big.Int, error)

func (f SourceFunc) Prime(ctx context.Context, bits int) (*big.Int, error) {
	return f(ctx, bits)
}

type Generator struct {
	random io.Reader
	rounds int
	log    logr.Logger
}

// NewGenerator returns a Source drawing candidates from random.
// The reader is serialized internally, so it may be shared between concurrent searches.
func NewGenerator(random io.Reader, rounds int, log logr.Logger) *Generator {
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	return &Generator{
		random: &lockedReader{r: random},
		rounds: rounds,
		log:    log,
	}
}

func (g *Generator) Prime(ctx context.Context, bits int) (*big.Int, error) {
	if bits < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBitLength, bits)
	}

	buf := make([]byte, (bits+7)/8)
	topBits := uint(bits % 8)
	if topBits == 0 {
		topBits = 8
	}

	candidate := new(big.Int)
	for attempts := 1; ; attempts++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(g.random, buf); err != nil {
			return nil, fmt.Errorf("reading random bytes: %w", err)
		}

		// clear bits above the requested length, then pin the top bit and make it odd
		buf[0] &= uint8(int(1<<topBits) - 1)
		buf[0] |= 1 << (topBits - 1)
		buf[len(buf)-1] |= 1

		candidate.SetBytes(buf)
		if candidate.ProbablyPrime(g.rounds) {
			g.log.V(2).Info("found probable prime", "bits", bits, "attempts", attempts)
			return candidate, nil
		}
	}
}

type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

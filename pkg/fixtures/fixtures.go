package fixtures

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	mathrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nais/rsakeygen/pkg/prime"
)

var ErrExhausted = errors.New("fixture source exhausted")

// Eight-bit primes. Products of two of these have either 15 or 16 bits.
var (
	P131 = big.NewInt(131)
	P137 = big.NewInt(137)
	P241 = big.NewInt(241)
	P251 = big.NewInt(251)
)

// SeededReader returns a deterministic, non-cryptographic byte stream.
func SeededReader(seed uint64) io.Reader {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return mathrand.NewChaCha8(s)
}

// Sequence hands out the given primes in order, one per call, and fails once they run out.
type Sequence struct {
	mu     sync.Mutex
	primes []*big.Int
	calls  int
}

func NewSequence(primes ...*big.Int) *Sequence {
	return &Sequence{primes: primes}
}

func (s *Sequence) Prime(_ context.Context, _ int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls >= len(s.primes) {
		return nil, ErrExhausted
	}
	p := new(big.Int).Set(s.primes[s.calls])
	s.calls++
	return p, nil
}

func (s *Sequence) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Repeating alternates between the given primes forever.
func Repeating(primes ...*big.Int) prime.Source {
	var calls atomic.Int64
	return prime.SourceFunc(func(ctx context.Context, bits int) (*big.Int, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i := calls.Add(1) - 1
		return new(big.Int).Set(primes[int(i)%len(primes)]), nil
	})
}

// Concurrency wraps a source and records the highest number of simultaneous calls.
type Concurrency struct {
	Source prime.Source
	Delay  time.Duration

	inflight atomic.Int64
	peak     atomic.Int64
}

func (c *Concurrency) Prime(ctx context.Context, bits int) (*big.Int, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)

	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(c.Delay)
	return c.Source.Prime(ctx, bits)
}

func (c *Concurrency) Peak() int {
	return int(c.peak.Load())
}

// PrimeWithPrefix returns a random prime of the given bit length whose
// leading prefixBits bits equal prefix. A prefix of 0b11 yields factors whose
// products always have 2*bits bits; a prefix of 0b100 yields products one bit short.
func PrimeWithPrefix(bits int, prefix uint64, prefixBits int) (*big.Int, error) {
	shift := uint(bits - prefixBits)
	limit := new(big.Int).Lsh(big.NewInt(1), shift)
	high := new(big.Int).Lsh(new(big.Int).SetUint64(prefix), shift)

	for {
		c, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, err
		}
		c.SetBit(c, 0, 1)
		c.Or(c, high)
		if c.ProbablyPrime(prime.DefaultRounds) {
			return c, nil
		}
	}
}

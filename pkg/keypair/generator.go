package keypair

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/nais/rsakeygen/pkg/metrics"
	"github.com/nais/rsakeygen/pkg/prime"
	"github.com/nais/rsakeygen/pkg/retry"
	"github.com/nais/rsakeygen/pkg/util/numbers"
)

const (
	DefaultBits = 2048
	MinBits     = 16

	// maxWorkers bounds the prime searches running at once.
	maxWorkers = 2
)

var (
	ErrInvalidBitLength = errors.New("bit length must be even and at least 16")
	ErrPrimeBits        = errors.New("prime source returned a factor of the wrong bit length")
	ErrRoundsExhausted  = errors.New("no modulus of the requested bit length found")

	errModulusMismatch = errors.New("modulus bit length mismatch")
	errNotCoprime      = errors.New("exponent candidate not coprime to totient")

	one = big.NewInt(1)
)

type Generator struct {
	random                 io.Reader
	primes                 prime.Source
	primeRounds            int
	log                    logr.Logger
	workers                int
	maxRounds              uint64
	excludeTrivialExponent bool
}

type Option func(*Generator)

// WithRandom sets the entropy source for exponent sampling and, unless
// WithPrimeSource is given, for prime generation.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.random = r
	}
}

func WithPrimeSource(src prime.Source) Option {
	return func(g *Generator) {
		g.primes = src
	}
}

// WithPrimeRounds sets the Miller-Rabin rounds of the default prime source.
func WithPrimeRounds(rounds int) Option {
	return func(g *Generator) {
		g.primeRounds = rounds
	}
}

func WithLogger(log logr.Logger) Option {
	return func(g *Generator) {
		g.log = log
	}
}

// WithMaxRounds caps the modulus search. Zero leaves it unbounded.
func WithMaxRounds(rounds uint64) Option {
	return func(g *Generator) {
		g.maxRounds = rounds
	}
}

// WithTrivialExponentExcluded rejects e = 1 during exponent selection.
func WithTrivialExponentExcluded(exclude bool) Option {
	return func(g *Generator) {
		g.excludeTrivialExponent = exclude
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		random:      rand.Reader,
		primeRounds: prime.DefaultRounds,
		log:         logr.Discard(),
		workers:     min(maxWorkers, runtime.NumCPU()),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.primes == nil {
		g.primes = prime.NewGenerator(g.random, g.primeRounds, g.log.WithName("prime"))
	}
	return g
}

// Generate returns a key pair with the default generator.
func Generate(ctx context.Context, bits int) (*KeyPair, error) {
	return NewGenerator().Generate(ctx, bits)
}

// Generate blocks until a key pair whose modulus has exactly bits bits is found,
// the context is done, or a collaborator fails.
func (g *Generator) Generate(ctx context.Context, bits int) (*KeyPair, error) {
	return g.generate(ctx, bits, nil)
}

type factors struct {
	p, q, modulus *big.Int
}

func (f *factors) release() {
	numbers.Scrub(f.p, f.q, f.modulus)
}

func (g *Generator) generate(ctx context.Context, bits int, inspect func(*factors)) (*KeyPair, error) {
	if bits < MinBits || bits%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBitLength, bits)
	}

	start := time.Now()

	f, rounds, err := g.searchModulus(ctx, bits)
	if err != nil {
		return nil, err
	}
	defer f.release()

	if inspect != nil {
		inspect(f)
	}

	phi := numbers.Totient(f.p, f.q)
	defer numbers.Scrub(phi)

	e, d, samples, err := g.selectExponents(ctx, phi)
	if err != nil {
		return nil, err
	}

	kp := newKeyPair(bits, f.modulus, e, d)
	numbers.Scrub(e, d)

	elapsed := time.Since(start)
	metrics.KeyPairsGenerated.Inc()
	metrics.GenerationDuration.Observe(elapsed.Seconds())
	g.log.Info("generated key pair",
		"id", kp.ID(),
		"bits", bits,
		"rounds", rounds,
		"samples", samples,
		"duration", elapsed,
	)

	return kp, nil
}

// searchModulus runs rounds of two independent prime searches until the
// product of the pair has exactly bits bits.
func (g *Generator) searchModulus(ctx context.Context, bits int) (*factors, int, error) {
	var found *factors
	rounds := 0

	err := retry.Immediate().WithMaxAttempts(g.maxRounds).Do(ctx, func(ctx context.Context) error {
		rounds++
		metrics.ModulusRounds.Inc()

		p, q, err := g.primePair(ctx, bits/2)
		if err != nil {
			return err
		}

		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits || p.Cmp(q) == 0 {
			metrics.ModulusMismatches.Inc()
			g.log.V(1).Info("discarding prime pair", "round", rounds, "modulus_bits", n.BitLen(), "equal_factors", p.Cmp(q) == 0)
			numbers.Scrub(p, q, n)
			return retry.RetryableError(errModulusMismatch)
		}

		found = &factors{p: p, q: q, modulus: n}
		return nil
	})
	if errors.Is(err, errModulusMismatch) {
		return nil, rounds, fmt.Errorf("%w after %d rounds", ErrRoundsExhausted, rounds)
	}
	if err != nil {
		return nil, rounds, err
	}

	return found, rounds, nil
}

// primePair runs two prime searches on at most g.workers goroutines and waits for both.
func (g *Generator) primePair(ctx context.Context, bits int) (*big.Int, *big.Int, error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	var primes [2]*big.Int
	for i := range primes {
		eg.Go(func() error {
			p, err := g.primes.Prime(ctx, bits)
			if err != nil {
				return fmt.Errorf("generating prime factor: %w", err)
			}
			if p.BitLen() != bits {
				return fmt.Errorf("%w: want %d, got %d", ErrPrimeBits, bits, p.BitLen())
			}
			primes[i] = p
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return primes[0], primes[1], nil
}

// selectExponents samples e from [1, phi] until gcd(e, phi) = 1 and derives
// d as the inverse of e modulo phi, normalized into (0, phi).
func (g *Generator) selectExponents(ctx context.Context, phi *big.Int) (*big.Int, *big.Int, int, error) {
	var e *big.Int
	samples := 0

	err := retry.Immediate().Do(ctx, func(ctx context.Context) error {
		samples++
		metrics.ExponentSamples.Inc()

		candidate, err := numbers.RandomInRange(g.random, one, phi)
		if err != nil {
			return fmt.Errorf("sampling public exponent: %w", err)
		}

		if numbers.Gcd(candidate, phi).Cmp(one) != 0 {
			g.log.V(2).Info("resampling public exponent", "sample", samples)
			return retry.RetryableError(errNotCoprime)
		}
		if g.excludeTrivialExponent && candidate.Cmp(one) == 0 {
			g.log.V(1).Info("rejecting trivial public exponent", "sample", samples)
			return retry.RetryableError(errNotCoprime)
		}

		e = candidate
		return nil
	})
	if err != nil {
		return nil, nil, samples, err
	}

	_, u, d := numbers.ExtendedGcd(phi, e)
	numbers.Scrub(u)
	if d.Sign() < 0 {
		d.Add(d, phi)
	}

	return e, d, samples, nil
}

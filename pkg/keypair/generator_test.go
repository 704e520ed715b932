package keypair_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/rsakeygen/pkg/fixtures"
	"github.com/nais/rsakeygen/pkg/keypair"
	"github.com/nais/rsakeygen/pkg/metrics"
	"github.com/nais/rsakeygen/pkg/prime"
	"github.com/nais/rsakeygen/pkg/util/numbers"
	"github.com/nais/rsakeygen/pkg/util/test"
)

func TestGenerate_Properties(t *testing.T) {
	for _, bits := range []int{16, 32, 64, 128, 512} {
		t.Run(fmt.Sprintf("%d bits", bits), func(t *testing.T) {
			gen := keypair.NewGenerator()

			kp, p, q, err := keypair.GenerateWithFactors(context.Background(), gen, bits)
			require.NoError(t, err)
			defer kp.Close()

			pub, err := kp.PublicKey()
			require.NoError(t, err)
			priv, err := kp.PrivateKey()
			require.NoError(t, err)

			n, err := pub.Modulus()
			require.NoError(t, err)
			e, err := pub.Exponent()
			require.NoError(t, err)
			privN, err := priv.Modulus()
			require.NoError(t, err)
			d, err := priv.Exponent()
			require.NoError(t, err)

			assert.Equal(t, bits, n.BitLen())
			assert.Equal(t, bits, kp.Bits())
			assert.Equal(t, 0, n.Cmp(privN))
			assert.Equal(t, 0, n.Cmp(new(big.Int).Mul(p, q)))
			assert.NotEqual(t, 0, p.Cmp(q))

			test.AssertExponentPair(t, e, d, numbers.Totient(p, q))
			test.AssertRoundTrip(t, n, e, d,
				big.NewInt(0),
				big.NewInt(1),
				new(big.Int).Sub(n, big.NewInt(1)),
				new(big.Int).Rsh(n, 1),
			)
			assert.NoError(t, kp.Verify())
		})
	}
}

func TestGenerate_SixteenBits_Seeded(t *testing.T) {
	gen := keypair.NewGenerator(keypair.WithRandom(fixtures.SeededReader(7)))

	kp, err := gen.Generate(context.Background(), 16)
	require.NoError(t, err)
	defer kp.Close()

	pub, err := kp.PublicKey()
	require.NoError(t, err)
	priv, err := kp.PrivateKey()
	require.NoError(t, err)

	n, err := pub.Modulus()
	require.NoError(t, err)
	e, err := pub.Exponent()
	require.NoError(t, err)
	d, err := priv.Exponent()
	require.NoError(t, err)

	assert.Equal(t, 16, n.BitLen())
	for m := int64(0); m < n.Int64(); m += 97 {
		test.AssertRoundTrip(t, n, e, d, big.NewInt(m))
	}
	test.AssertRoundTrip(t, n, e, d, new(big.Int).Sub(n, big.NewInt(1)))
}

func TestGenerate_DefaultBits_MockedPrimes(t *testing.T) {
	if testing.Short() {
		t.Skip("generates 1024-bit fixture primes")
	}

	half := keypair.DefaultBits / 2
	low := make([]*big.Int, 2)
	high := make([]*big.Int, 2)
	for i := range low {
		var err error
		low[i], err = fixtures.PrimeWithPrefix(half, 0b100, 3)
		require.NoError(t, err)
		high[i], err = fixtures.PrimeWithPrefix(half, 0b11, 2)
		require.NoError(t, err)
	}

	src := fixtures.NewSequence(low[0], low[1], high[0], high[1])
	gen := keypair.NewGenerator(keypair.WithPrimeSource(src))

	before := testutil.ToFloat64(metrics.ModulusRounds)
	mismatchesBefore := testutil.ToFloat64(metrics.ModulusMismatches)

	kp, p, q, err := keypair.GenerateWithFactors(context.Background(), gen, keypair.DefaultBits)
	require.NoError(t, err)
	defer kp.Close()

	assert.Equal(t, 4, src.Calls())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ModulusRounds)-before)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ModulusMismatches)-mismatchesBefore)
	assert.ElementsMatch(t, []string{high[0].String(), high[1].String()}, []string{p.String(), q.String()})

	pub, err := kp.PublicKey()
	require.NoError(t, err)
	n, err := pub.Modulus()
	require.NoError(t, err)
	assert.Equal(t, keypair.DefaultBits, n.BitLen())
	assert.NoError(t, kp.Verify())
}

func TestGenerate_InvalidBitLength(t *testing.T) {
	for _, bits := range []int{-2, 0, 8, 14, 17, 2047} {
		_, err := keypair.NewGenerator().Generate(context.Background(), bits)
		assert.ErrorIs(t, err, keypair.ErrInvalidBitLength, "bits=%d", bits)
	}
}

func TestGenerate_PackageLevel(t *testing.T) {
	kp, err := keypair.Generate(context.Background(), 64)
	require.NoError(t, err)
	assert.NotEmpty(t, kp.ID())
	assert.NoError(t, kp.Close())
}

func TestNewGenerator_Workers(t *testing.T) {
	workers := keypair.Workers(keypair.NewGenerator())
	assert.GreaterOrEqual(t, workers, 1)
	assert.LessOrEqual(t, workers, 2)
}

func TestSearchModulus(t *testing.T) {
	t.Run("retries until the modulus has the requested length", func(t *testing.T) {
		// 131*137 has 15 bits, 241*251 has 16
		src := fixtures.NewSequence(fixtures.P131, fixtures.P137, fixtures.P131, fixtures.P137, fixtures.P241, fixtures.P251)
		gen := keypair.NewGenerator(keypair.WithPrimeSource(src))

		p, q, n, rounds, err := keypair.SearchModulus(context.Background(), gen, 16)
		require.NoError(t, err)

		assert.Equal(t, 3, rounds)
		assert.Equal(t, 6, src.Calls())
		assert.Equal(t, int64(241*251), n.Int64())
		assert.Equal(t, n, new(big.Int).Mul(p, q))
	})

	t.Run("equal factors are discarded", func(t *testing.T) {
		src := fixtures.NewSequence(fixtures.P251, fixtures.P251, fixtures.P241, fixtures.P251)
		gen := keypair.NewGenerator(keypair.WithPrimeSource(src))

		_, _, n, rounds, err := keypair.SearchModulus(context.Background(), gen, 16)
		require.NoError(t, err)

		assert.Equal(t, 2, rounds)
		assert.Equal(t, int64(241*251), n.Int64())
	})

	t.Run("round cap", func(t *testing.T) {
		gen := keypair.NewGenerator(
			keypair.WithPrimeSource(fixtures.Repeating(fixtures.P131, fixtures.P137)),
			keypair.WithMaxRounds(3),
		)

		_, _, _, rounds, err := keypair.SearchModulus(context.Background(), gen, 16)
		assert.ErrorIs(t, err, keypair.ErrRoundsExhausted)
		assert.Equal(t, 3, rounds)
	})

	t.Run("cancellation between rounds", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		gen := keypair.NewGenerator(
			keypair.WithPrimeSource(fixtures.Repeating(fixtures.P131, fixtures.P137)),
			keypair.WithMaxRounds(0),
		)

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, _, _, _, err := keypair.SearchModulus(ctx, gen, 16)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("collaborator failure propagates", func(t *testing.T) {
		boom := errors.New("boom")
		gen := keypair.NewGenerator(keypair.WithPrimeSource(prime.SourceFunc(func(ctx context.Context, bits int) (*big.Int, error) {
			return nil, boom
		})))

		_, err := gen.Generate(context.Background(), 16)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("factor of the wrong length is rejected", func(t *testing.T) {
		src := fixtures.NewSequence(big.NewInt(127), fixtures.P251)
		gen := keypair.NewGenerator(keypair.WithPrimeSource(src))

		_, err := gen.Generate(context.Background(), 16)
		assert.ErrorIs(t, err, keypair.ErrPrimeBits)
	})

	t.Run("at most two concurrent prime searches", func(t *testing.T) {
		src := &fixtures.Concurrency{
			Source: fixtures.Repeating(fixtures.P131, fixtures.P137, fixtures.P131, fixtures.P137, fixtures.P241, fixtures.P251),
			Delay:  5 * time.Millisecond,
		}
		gen := keypair.NewGenerator(keypair.WithPrimeSource(src))

		_, _, _, rounds, err := keypair.SearchModulus(context.Background(), gen, 16)
		require.NoError(t, err)

		assert.Equal(t, 3, rounds)
		assert.GreaterOrEqual(t, src.Peak(), 1)
		assert.LessOrEqual(t, src.Peak(), keypair.Workers(gen))
	})
}

func TestSelectExponents(t *testing.T) {
	// phi = (11-1)(13-1) = 120; each byte b is masked to 7 bits and yields e = b+1
	phi := big.NewInt(120)

	t.Run("resamples until coprime", func(t *testing.T) {
		// 1 = 120 - 17*7, so d is normalized from -17 to 103
		gen := keypair.NewGenerator(keypair.WithRandom(bytes.NewReader([]byte{1, 3, 5, 6})))

		e, d, samples, err := keypair.SelectExponents(context.Background(), gen, phi)
		require.NoError(t, err)

		assert.Equal(t, 4, samples)
		assert.Equal(t, int64(7), e.Int64())
		assert.Equal(t, int64(103), d.Int64())
		test.AssertExponentPair(t, e, d, phi)
	})

	t.Run("positive coefficient is kept", func(t *testing.T) {
		// 1 = 11*11 - 120
		gen := keypair.NewGenerator(keypair.WithRandom(bytes.NewReader([]byte{10})))

		e, d, _, err := keypair.SelectExponents(context.Background(), gen, phi)
		require.NoError(t, err)

		assert.Equal(t, int64(11), e.Int64())
		assert.Equal(t, int64(11), d.Int64())
		test.AssertExponentPair(t, e, d, phi)
	})

	t.Run("trivial exponent is accepted by default", func(t *testing.T) {
		gen := keypair.NewGenerator(keypair.WithRandom(bytes.NewReader([]byte{0})))

		e, d, samples, err := keypair.SelectExponents(context.Background(), gen, phi)
		require.NoError(t, err)

		assert.Equal(t, 1, samples)
		assert.Equal(t, int64(1), e.Int64())
		assert.Equal(t, int64(1), d.Int64())
	})

	t.Run("trivial exponent can be excluded", func(t *testing.T) {
		gen := keypair.NewGenerator(
			keypair.WithRandom(bytes.NewReader([]byte{0, 6})),
			keypair.WithTrivialExponentExcluded(true),
		)

		e, _, samples, err := keypair.SelectExponents(context.Background(), gen, phi)
		require.NoError(t, err)

		assert.Equal(t, 2, samples)
		assert.Equal(t, int64(7), e.Int64())
	})

	t.Run("random source failure propagates", func(t *testing.T) {
		gen := keypair.NewGenerator(keypair.WithRandom(bytes.NewReader([]byte{1})))

		_, _, samples, err := keypair.SelectExponents(context.Background(), gen, phi)
		assert.Error(t, err)
		assert.Equal(t, 2, samples)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		gen := keypair.NewGenerator(keypair.WithRandom(bytes.NewReader([]byte{6})))
		_, _, _, err := keypair.SelectExponents(ctx, gen, phi)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

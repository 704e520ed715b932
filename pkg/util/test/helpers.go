package test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/rsakeygen/pkg/util/numbers"
)

var one = big.NewInt(1)

// AssertExponentPair checks that e and d are inverse units modulo phi within (0, phi).
func AssertExponentPair(t *testing.T, e, d, phi *big.Int) {
	t.Helper()
	assert.Equal(t, 1, e.Sign(), "public exponent must be positive")
	assert.Equal(t, -1, e.Cmp(phi), "public exponent must be below the totient")
	assert.Equal(t, 1, d.Sign(), "private exponent must be positive")
	assert.Equal(t, -1, d.Cmp(phi), "private exponent must be below the totient")

	assert.Equal(t, 0, numbers.Gcd(e, phi).Cmp(one), "gcd(e, phi) must be 1")

	ed := new(big.Int).Mul(e, d)
	assert.Equal(t, 0, ed.Mod(ed, phi).Cmp(one), "e*d mod phi must be 1")
}

// AssertRoundTrip checks (m^e)^d mod n == m for every message.
func AssertRoundTrip(t *testing.T, n, e, d *big.Int, messages ...*big.Int) {
	t.Helper()
	for _, m := range messages {
		require.Equal(t, -1, m.Cmp(n), "message %s must be below the modulus", m)
		c := new(big.Int).Exp(m, e, n)
		actual := new(big.Int).Exp(c, d, n)
		assert.Equal(t, 0, actual.Cmp(m), "round trip of %s yielded %s", m, actual)
	}
}

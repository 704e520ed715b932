package numbers

import (
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	ErrEmptyRange = errors.New("lower bound exceeds upper bound")

	one = big.NewInt(1)
)

// Gcd returns the greatest common divisor of a and b.
func Gcd(a, b *big.Int) *big.Int {
	return new(big.Int).GCD(nil, nil, a, b)
}

// ExtendedGcd returns g, u and v such that g = gcd(a, b) = a*u + b*v.
func ExtendedGcd(a, b *big.Int) (g, u, v *big.Int) {
	u = new(big.Int)
	v = new(big.Int)
	g = new(big.Int).GCD(u, v, a, b)
	return g, u, v
}

// Totient returns (p-1)(q-1), Euler's totient of p*q for distinct primes p and q.
func Totient(p, q *big.Int) *big.Int {
	pm := new(big.Int).Sub(p, one)
	qm := new(big.Int).Sub(q, one)
	return pm.Mul(pm, qm)
}

// RandomInRange returns an integer drawn uniformly from [lo, hi], reading entropy from r.
func RandomInRange(r io.Reader, lo, hi *big.Int) (*big.Int, error) {
	if lo.Cmp(hi) > 0 {
		return nil, fmt.Errorf("%w: [%s, %s]", ErrEmptyRange, lo, hi)
	}

	// candidates are drawn from [0, span) and shifted by lo
	span := new(big.Int).Sub(hi, lo)
	if span.Sign() == 0 {
		return new(big.Int).Set(lo), nil
	}
	span.Add(span, one)

	bitLen := new(big.Int).Sub(span, one).BitLen()
	buf := make([]byte, (bitLen+7)/8)
	topBits := uint(bitLen % 8)
	if topBits == 0 {
		topBits = 8
	}

	n := new(big.Int)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading random bytes: %w", err)
		}
		buf[0] &= uint8(int(1<<topBits) - 1)

		n.SetBytes(buf)
		if n.Cmp(span) < 0 {
			return n.Add(n, lo), nil
		}
	}
}

// Scrub overwrites the backing words of every given integer and sets it to zero.
func Scrub(values ...*big.Int) {
	for _, v := range values {
		if v == nil {
			continue
		}
		words := v.Bits()
		for i := range words {
			words[i] = 0
		}
		v.SetInt64(0)
	}
}

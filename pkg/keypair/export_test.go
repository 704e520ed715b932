package keypair

import (
	"context"
	"math/big"
)

// GenerateWithFactors exposes the factors behind a generated key pair.
func GenerateWithFactors(ctx context.Context, g *Generator, bits int) (*KeyPair, *big.Int, *big.Int, error) {
	var p, q *big.Int
	kp, err := g.generate(ctx, bits, func(f *factors) {
		p = new(big.Int).Set(f.p)
		q = new(big.Int).Set(f.q)
	})
	return kp, p, q, err
}

func SearchModulus(ctx context.Context, g *Generator, bits int) (p, q, n *big.Int, rounds int, err error) {
	f, rounds, err := g.searchModulus(ctx, bits)
	if err != nil {
		return nil, nil, nil, rounds, err
	}
	return f.p, f.q, f.modulus, rounds, nil
}

func SelectExponents(ctx context.Context, g *Generator, phi *big.Int) (e, d *big.Int, samples int, err error) {
	return g.selectExponents(ctx, phi)
}

func Workers(g *Generator) int {
	return g.workers
}

// Material returns the stored values of the private key without copying them.
func Material(k *PrivateKey) (n, d *big.Int) {
	return k.k.modulus, k.k.exponent
}

var NewKeyPair = newKeyPair

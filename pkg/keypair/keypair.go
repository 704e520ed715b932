package keypair

import (
	"errors"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/nais/rsakeygen/pkg/util/numbers"
)

var (
	ErrReleased = errors.New("key material has been released")
	ErrTrapdoor = errors.New("key pair does not satisfy the rsa trapdoor relation")
)

// key holds a modulus and one exponent until it is released.
type key struct {
	mu       sync.RWMutex
	modulus  *big.Int
	exponent *big.Int
	released bool
}

func newKey(modulus, exponent *big.Int) *key {
	return &key{
		modulus:  new(big.Int).Set(modulus),
		exponent: new(big.Int).Set(exponent),
	}
}

func (k *key) values() (*big.Int, *big.Int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.released {
		return nil, nil, ErrReleased
	}
	return new(big.Int).Set(k.modulus), new(big.Int).Set(k.exponent), nil
}

func (k *key) release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return
	}
	numbers.Scrub(k.modulus, k.exponent)
	k.released = true
}

// PrivateKey holds the modulus n and the private exponent d.
type PrivateKey struct {
	k *key
}

// Modulus returns a copy of n.
func (p *PrivateKey) Modulus() (*big.Int, error) {
	n, _, err := p.k.values()
	return n, err
}

// Exponent returns a copy of d.
func (p *PrivateKey) Exponent() (*big.Int, error) {
	_, d, err := p.k.values()
	return d, err
}

// PublicKey holds the modulus n and the public exponent e.
type PublicKey struct {
	k *key
}

// Modulus returns a copy of n.
func (p *PublicKey) Modulus() (*big.Int, error) {
	n, _, err := p.k.values()
	return n, err
}

// Exponent returns a copy of e.
func (p *PublicKey) Exponent() (*big.Int, error) {
	_, e, err := p.k.values()
	return e, err
}

// KeyPair exclusively owns one private and one public key.
// Close scrubs both; every accessor fails with ErrReleased afterwards.
type KeyPair struct {
	id      string
	bits    int
	private *PrivateKey
	public  *PublicKey

	mu     sync.RWMutex
	closed bool
}

func newKeyPair(bits int, n, e, d *big.Int) *KeyPair {
	return &KeyPair{
		id:      uuid.New().String(),
		bits:    bits,
		private: &PrivateKey{k: newKey(n, d)},
		public:  &PublicKey{k: newKey(n, e)},
	}
}

func (kp *KeyPair) ID() string {
	return kp.id
}

// Bits is the bit length of the modulus.
func (kp *KeyPair) Bits() int {
	return kp.bits
}

func (kp *KeyPair) PrivateKey() (*PrivateKey, error) {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.closed {
		return nil, ErrReleased
	}
	return kp.private, nil
}

func (kp *KeyPair) PublicKey() (*PublicKey, error) {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.closed {
		return nil, ErrReleased
	}
	return kp.public, nil
}

// Verify checks that (m^e)^d mod n == m for m in {0, 1, 2, n-1}.
func (kp *KeyPair) Verify() error {
	n, d, err := kp.private.k.values()
	if err != nil {
		return err
	}
	_, e, err := kp.public.k.values()
	if err != nil {
		return err
	}
	defer numbers.Scrub(d)

	messages := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(2),
		new(big.Int).Sub(n, big.NewInt(1)),
	}
	for _, m := range messages {
		c := new(big.Int).Exp(m, e, n)
		if c.Exp(c, d, n).Cmp(m) != 0 {
			return ErrTrapdoor
		}
	}
	return nil
}

// Close releases both keys. It is safe to call more than once.
func (kp *KeyPair) Close() error {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.closed {
		return nil
	}
	kp.private.k.release()
	kp.public.k.release()
	kp.closed = true
	return nil
}

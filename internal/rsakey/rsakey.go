// Package rsakey implements a textbook RSA keypair: generation from two random
// primes, raw modular exponentiation in both directions and installation of an
// externally supplied key triple.
//
// There is no padding scheme here. Callers keep plaintext integers below the
// modulus by sizing their blocks from BlockSize.
package rsakey

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/faanross/pngrsa/internal/params"
)

var (
	// ErrKeyGeneration is returned when no usable keypair could be produced,
	// including an unsupported bit length.
	ErrKeyGeneration = errors.New("rsakey: key generation failed")

	// ErrInvalidKeyFormat is returned when an externally supplied key field is
	// not a decimal integer.
	ErrInvalidKeyFormat = errors.New("rsakey: invalid key format")
)

var one = big.NewInt(1)

// KeyPair holds the modulus and both exponents. The triple is only ever
// replaced as a whole, through SetKeys.
type KeyPair struct {
	mu     sync.RWMutex
	n      *big.Int
	e      *big.Int
	d      *big.Int
	lambda *big.Int // nil for keys supplied from outside
	bits   int
}

// Generate creates a new keypair whose modulus is the product of two primes of
// bits/2 bits each.
func Generate(bits int) (*KeyPair, error) {
	return generate(rand.Reader, bits, params.MAX_EXP_ATTEMPTS)
}

func generate(random io.Reader, bits, maxAttempts int) (*KeyPair, error) {
	if !SupportedBits(bits) {
		return nil, fmt.Errorf("%w: unsupported key size %d", ErrKeyGeneration, bits)
	}
	half := bits / 2

	p, err := rand.Prime(random, half)
	if err != nil {
		return nil, fmt.Errorf("%w: prime p: %v", ErrKeyGeneration, err)
	}
	var q *big.Int
	for attempt := 0; ; attempt++ {
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("%w: no distinct prime q after %d attempts", ErrKeyGeneration, attempt)
		}
		q, err = rand.Prime(random, half)
		if err != nil {
			return nil, fmt.Errorf("%w: prime q: %v", ErrKeyGeneration, err)
		}
		if p.Cmp(q) != 0 {
			break
		}
	}

	n := new(big.Int).Mul(p, q)
	lambda := lcm(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))

	e, err := coprimeBelow(random, lambda, half, maxAttempts)
	if err != nil {
		return nil, err
	}
	d := new(big.Int).ModInverse(e, lambda)
	if d == nil {
		return nil, fmt.Errorf("%w: public exponent has no inverse", ErrKeyGeneration)
	}

	return &KeyPair{n: n, e: e, d: d, lambda: lambda, bits: bits}, nil
}

// coprimeBelow draws random primes of the given size until one is both below
// max and coprime to it.
func coprimeBelow(random io.Reader, max *big.Int, bits, maxAttempts int) (*big.Int, error) {
	gcd := new(big.Int)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := rand.Prime(random, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: public exponent: %v", ErrKeyGeneration, err)
		}
		if candidate.Cmp(max) >= 0 {
			continue
		}
		if gcd.GCD(nil, nil, candidate, max).Cmp(one) == 0 {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("%w: no public exponent after %d attempts", ErrKeyGeneration, maxAttempts)
}

func lcm(a, b *big.Int) *big.Int {
	gcd := new(big.Int).GCD(nil, nil, a, b)
	return new(big.Int).Mul(new(big.Int).Div(a, gcd), b)
}

// SupportedBits reports whether bits is one of the accepted modulus sizes.
func SupportedBits(bits int) bool {
	for _, b := range params.SupportedKeyBits {
		if b == bits {
			return true
		}
	}
	return false
}

// New builds a keypair from an existing triple. d may be nil for a public-only
// key, which can encrypt but not decrypt.
func New(n, e, d *big.Int) *KeyPair {
	kp := &KeyPair{}
	kp.SetKeys(n, e, d)
	return kp
}

// SetKeys replaces the modulus and both exponents together. The triple is not
// cross-checked; see Validate.
func (kp *KeyPair) SetKeys(n, e, d *big.Int) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	kp.n = copyInt(n)
	kp.e = copyInt(e)
	kp.d = copyInt(d)
	kp.lambda = nil
	kp.bits = bitsOf(n)
}

// ParseKeys parses a decimal modulus, public exponent and private exponent. An
// empty private exponent yields a public-only key.
func ParseKeys(modulus, publicExp, privateExp string) (*KeyPair, error) {
	n, err := parseDecimal("modulus", modulus)
	if err != nil {
		return nil, err
	}
	e, err := parseDecimal("public exponent", publicExp)
	if err != nil {
		return nil, err
	}
	var d *big.Int
	if strings.TrimSpace(privateExp) != "" {
		d, err = parseDecimal("private exponent", privateExp)
		if err != nil {
			return nil, err
		}
	}
	return New(n, e, d), nil
}

func parseDecimal(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", ErrInvalidKeyFormat, field)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidKeyFormat, field)
	}
	return v, nil
}

// SetKeysFromStrings parses the triple and installs it on kp. On error kp is
// left untouched.
func (kp *KeyPair) SetKeysFromStrings(modulus, publicExp, privateExp string) error {
	parsed, err := ParseKeys(modulus, publicExp, privateExp)
	if err != nil {
		return err
	}
	kp.SetKeys(parsed.N(), parsed.E(), parsed.D())
	return nil
}

// EncryptBlock returns x^e mod n. x must be in [0, n). It panics when the
// modulus or the public exponent is missing; check Validate first.
func (kp *KeyPair) EncryptBlock(x *big.Int) *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.n == nil || kp.e == nil {
		panic("rsakey: encrypt with unconfigured key")
	}
	return new(big.Int).Exp(x, kp.e, kp.n)
}

// DecryptBlock returns y^d mod n. It panics on a public-only key; check
// HasPrivate first.
func (kp *KeyPair) DecryptBlock(y *big.Int) *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.d == nil {
		panic("rsakey: decrypt with public-only key")
	}
	return new(big.Int).Exp(y, kp.d, kp.n)
}

// Validate round-trips a sample value through the key. It catches a private
// exponent that does not belong to the public one.
func Validate(kp *KeyPair) error {
	if kp == nil || kp.N() == nil || kp.E() == nil {
		return fmt.Errorf("%w: missing modulus or public exponent", ErrInvalidKeyFormat)
	}
	if !kp.HasPrivate() {
		return nil
	}
	sample := big.NewInt(2)
	if kp.DecryptBlock(kp.EncryptBlock(sample)).Cmp(sample) != 0 {
		return fmt.Errorf("%w: private exponent does not invert public exponent", ErrInvalidKeyFormat)
	}
	return nil
}

// N returns a copy of the modulus.
func (kp *KeyPair) N() *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return copyInt(kp.n)
}

// E returns a copy of the public exponent.
func (kp *KeyPair) E() *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return copyInt(kp.e)
}

// D returns a copy of the private exponent, or nil for a public-only key.
func (kp *KeyPair) D() *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return copyInt(kp.d)
}

// Lambda returns lcm(p-1, q-1) for generated keys and nil otherwise.
func (kp *KeyPair) Lambda() *big.Int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return copyInt(kp.lambda)
}

// HasPrivate reports whether the private exponent is set.
func (kp *KeyPair) HasPrivate() bool {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return kp.d != nil
}

// Bits is the nominal key size.
func (kp *KeyPair) Bits() int {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return kp.bits
}

// BlockSize is the number of bytes in one RSA block.
func (kp *KeyPair) BlockSize() int {
	return kp.Bits() / 8
}

// Public returns a public-only copy of kp.
func (kp *KeyPair) Public() *KeyPair {
	return New(kp.N(), kp.E(), nil)
}

// bitsOf rounds the modulus length up to whole bytes. A product of two
// half-size primes can come out one bit short of the nominal size.
func bitsOf(n *big.Int) int {
	if n == nil {
		return 0
	}
	return (n.BitLen() + 7) / 8 * 8
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Package blockcipher turns the integer RSA primitive into a byte-stream cipher.
//
// One RSA block is BlockSize bytes of the key. Two modes are provided:
// ElectronicCodeBook pads and encrypts every block on its own, Counter encrypts
// nonce+i and XORs the result into the data.
package blockcipher

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/faanross/pngrsa/internal/params"
)

var (
	// ErrBlockSize is returned when data or key do not fit the block layout of
	// a mode.
	ErrBlockSize = errors.New("blockcipher: invalid block size")

	// ErrPrivateKeyRequired is returned when ECB decryption is attempted with a
	// public-only key.
	ErrPrivateKeyRequired = errors.New("blockcipher: private exponent required")
)

// Key is the RSA primitive the modes are built on. *rsakey.KeyPair satisfies it.
type Key interface {
	EncryptBlock(x *big.Int) *big.Int
	DecryptBlock(y *big.Int) *big.Int
	BlockSize() int
	HasPrivate() bool
}

// Mode selects a block cipher mode.
type Mode int

const (
	ECB Mode = iota
	CTR
)

func (m Mode) String() string {
	switch m {
	case ECB:
		return params.MODE_ECB
	case CTR:
		return params.MODE_CTR
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "ecb" or "ctr", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case params.MODE_ECB:
		return ECB, nil
	case params.MODE_CTR:
		return CTR, nil
	default:
		return 0, fmt.Errorf("blockcipher: unknown mode %q", s)
	}
}

// Cipher encrypts and decrypts arbitrary-length data under an RSA key.
type Cipher interface {
	Mode() Mode
	Encrypt(key Key, data []byte) ([]byte, error)
	Decrypt(key Key, data []byte) ([]byte, error)
}

type options struct {
	nonce *big.Int
}

// Option configures a Cipher built by New.
type Option func(*options)

// WithNonce sets the counter mode nonce. It is ignored by ECB.
func WithNonce(nonce int64) Option {
	return func(o *options) {
		o.nonce = big.NewInt(nonce)
	}
}

// New returns the Cipher for mode.
func New(mode Mode, opts ...Option) (Cipher, error) {
	o := options{nonce: big.NewInt(params.CTR_NONCE)}
	for _, opt := range opts {
		opt(&o)
	}

	switch mode {
	case ECB:
		return ElectronicCodeBook{}, nil
	case CTR:
		return Counter{Nonce: o.nonce}, nil
	default:
		return nil, fmt.Errorf("blockcipher: unsupported mode %v", mode)
	}
}

// process splits data into step-sized blocks (the last may be shorter), runs fn
// on each in order and concatenates the results.
func process(data []byte, step int, fn func(block []byte) ([]byte, error)) ([]byte, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %d", ErrBlockSize, step)
	}
	out := make([]byte, 0, len(data)+step)
	for start := 0; start < len(data); start += step {
		end := min(start+step, len(data))
		block, err := fn(data[start:end])
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", start/step, err)
		}
		out = append(out, block...)
	}
	return out, nil
}

// toBlock writes v big-endian into exactly size bytes.
func toBlock(v *big.Int, size int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > size*8 {
		return nil, fmt.Errorf("%w: value does not fit %d bytes", ErrBlockSize, size)
	}
	return v.FillBytes(make([]byte, size)), nil
}

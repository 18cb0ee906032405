package blockcipher

import (
	"math/big"

	"github.com/faanross/pngrsa/internal/params"
)

// Counter XORs data with the RSA encryption of nonce, nonce+1, nonce+2, ...
// Only the public exponent is used, in both directions.
type Counter struct {
	Nonce *big.Int
}

// counterState lives for exactly one Encrypt or Decrypt call, so two calls over
// the same data always line up on the same keystream.
type counterState struct {
	nonce   *big.Int
	counter int64
}

func newCounterState(nonce *big.Int) *counterState {
	if nonce == nil {
		nonce = big.NewInt(params.CTR_NONCE)
	}
	return &counterState{nonce: nonce}
}

func (s *counterState) next() *big.Int {
	v := new(big.Int).Add(s.nonce, big.NewInt(s.counter))
	s.counter++
	return v
}

func (Counter) Mode() Mode { return CTR }

func (c Counter) Encrypt(key Key, data []byte) ([]byte, error) {
	return c.xorKeystream(key, data)
}

// Decrypt is the same operation as Encrypt.
func (c Counter) Decrypt(key Key, data []byte) ([]byte, error) {
	return c.xorKeystream(key, data)
}

func (c Counter) xorKeystream(key Key, data []byte) ([]byte, error) {
	size := key.BlockSize()
	state := newCounterState(c.Nonce)

	return process(data, size, func(block []byte) ([]byte, error) {
		keystream, err := toBlock(key.EncryptBlock(state.next()), size)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(block))
		for i := range block {
			out[i] = block[i] ^ keystream[i]
		}
		return out, nil
	})
}

package blockcipher

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/faanross/pngrsa/internal/params"
)

// PaddingLen is the number of leading bytes reserved in every ECB block. The
// last two of them hold the count of zero bytes that follow.
const PaddingLen = params.ECB_PADDING_LEN

// ElectronicCodeBook encrypts each block independently. Equal plaintext blocks
// give equal ciphertext blocks.
//
// Plain block layout (BlockSize bytes):
//
//	[zero pad (PaddingLen-2)][numZeros (2, BE)][numZeros zero bytes][data]
type ElectronicCodeBook struct{}

func (ElectronicCodeBook) Mode() Mode { return ECB }

// Encrypt produces one BlockSize ciphertext block per BlockSize-PaddingLen
// bytes of data.
func (ElectronicCodeBook) Encrypt(key Key, data []byte) ([]byte, error) {
	size := key.BlockSize()
	payload := size - PaddingLen
	if payload <= 0 {
		return nil, fmt.Errorf("%w: block of %d bytes leaves no room after %d padding bytes", ErrBlockSize, size, PaddingLen)
	}

	return process(data, payload, func(piece []byte) ([]byte, error) {
		numZeros := payload - len(piece)
		buf := make([]byte, size)
		binary.BigEndian.PutUint16(buf[PaddingLen-2:PaddingLen], uint16(numZeros))
		copy(buf[PaddingLen+numZeros:], piece)
		return toBlock(key.EncryptBlock(new(big.Int).SetBytes(buf)), size)
	})
}

// Decrypt reverses Encrypt. data must be a whole number of blocks.
func (ElectronicCodeBook) Decrypt(key Key, data []byte) ([]byte, error) {
	if !key.HasPrivate() {
		return nil, ErrPrivateKeyRequired
	}
	size := key.BlockSize()
	if size <= PaddingLen {
		return nil, fmt.Errorf("%w: block of %d bytes is not above %d padding bytes", ErrBlockSize, size, PaddingLen)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrBlockSize, len(data), size)
	}

	return process(data, size, func(block []byte) ([]byte, error) {
		plain, err := toBlock(key.DecryptBlock(new(big.Int).SetBytes(block)), size)
		if err != nil {
			return nil, err
		}
		numZeros := int(binary.BigEndian.Uint16(plain[PaddingLen-2 : PaddingLen]))
		if PaddingLen+numZeros > size {
			return nil, fmt.Errorf("%w: pad count %d exceeds block", ErrBlockSize, numZeros)
		}
		return plain[PaddingLen+numZeros:], nil
	})
}

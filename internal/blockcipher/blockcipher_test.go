package blockcipher

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"

	"github.com/faanross/pngrsa/internal/rsakey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsakey.KeyPair
	keyErr  error
)

func setupKey(t *testing.T) *rsakey.KeyPair {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = rsakey.Generate(512)
	})
	require.NoError(t, keyErr)
	return testKey
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// stubKey reports a fixed block size and never gets as far as exponentiation.
type stubKey struct{ size int }

func (k stubKey) EncryptBlock(x *big.Int) *big.Int { return x }
func (k stubKey) DecryptBlock(y *big.Int) *big.Int { return y }
func (k stubKey) BlockSize() int                   { return k.size }
func (k stubKey) HasPrivate() bool                 { return true }

func TestRoundTrip(t *testing.T) {
	key := setupKey(t)
	size := key.BlockSize()

	for _, mode := range []Mode{ECB, CTR} {
		t.Run(mode.String(), func(t *testing.T) {
			c, err := New(mode)
			require.NoError(t, err)

			for n := 0; n <= 10*size; n += 5 {
				data := randomBytes(t, n)
				enc, err := c.Encrypt(key, data)
				require.NoError(t, err, "len=%d", n)
				dec, err := c.Decrypt(key, enc)
				require.NoError(t, err, "len=%d", n)
				require.True(t, bytes.Equal(data, dec), "len=%d", n)
			}
		})
	}
}

func TestScenarios1024(t *testing.T) {
	if testing.Short() {
		t.Skip("1024-bit key generation")
	}
	key, err := rsakey.Generate(1024)
	require.NoError(t, err)

	t.Run("ECBShortData", func(t *testing.T) {
		data := []byte{0, 2, 1, 0, 5}
		enc, err := ElectronicCodeBook{}.Encrypt(key, data)
		require.NoError(t, err)
		assert.Len(t, enc, key.BlockSize())

		dec, err := ElectronicCodeBook{}.Decrypt(key, enc)
		require.NoError(t, err)
		assert.Equal(t, data, dec)
	})

	t.Run("CTRRandomData", func(t *testing.T) {
		data := randomBytes(t, 1000)
		c, err := New(CTR)
		require.NoError(t, err)

		enc, err := c.Encrypt(key, data)
		require.NoError(t, err)
		assert.Len(t, enc, len(data))
		assert.NotEqual(t, data, enc)

		dec, err := c.Decrypt(key, enc)
		require.NoError(t, err)
		assert.Equal(t, data, dec)
	})
}

func TestECBLayout(t *testing.T) {
	key := setupKey(t)
	size := key.BlockSize()
	payload := size - PaddingLen

	t.Run("CiphertextLength", func(t *testing.T) {
		for _, n := range []int{1, payload - 1, payload, payload + 1, 3 * payload} {
			enc, err := ElectronicCodeBook{}.Encrypt(key, randomBytes(t, n))
			require.NoError(t, err)
			blocks := (n + payload - 1) / payload
			assert.Len(t, enc, blocks*size, "len=%d", n)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		block := randomBytes(t, payload)
		data := append(append([]byte{}, block...), block...)

		enc, err := ElectronicCodeBook{}.Encrypt(key, data)
		require.NoError(t, err)
		require.Len(t, enc, 2*size)
		assert.Equal(t, enc[:size], enc[size:], "equal plaintext blocks must encrypt equally")

		again, err := ElectronicCodeBook{}.Encrypt(key, data)
		require.NoError(t, err)
		assert.Equal(t, enc, again)
	})

	t.Run("BadCiphertextLength", func(t *testing.T) {
		_, err := ElectronicCodeBook{}.Decrypt(key, make([]byte, size+1))
		assert.ErrorIs(t, err, ErrBlockSize)
	})

	t.Run("BlockTooSmall", func(t *testing.T) {
		_, err := ElectronicCodeBook{}.Encrypt(stubKey{size: PaddingLen}, []byte{1})
		assert.ErrorIs(t, err, ErrBlockSize)
		_, err = ElectronicCodeBook{}.Decrypt(stubKey{size: 2}, make([]byte, 2))
		assert.ErrorIs(t, err, ErrBlockSize)
	})

	t.Run("CorruptPadCount", func(t *testing.T) {
		// With the identity key the "ciphertext" is the plain block itself.
		block := make([]byte, 8)
		block[PaddingLen-2] = 0xff
		_, err := ElectronicCodeBook{}.Decrypt(stubKey{size: 8}, block)
		assert.ErrorIs(t, err, ErrBlockSize)
	})

	t.Run("PublicOnlyKey", func(t *testing.T) {
		enc, err := ElectronicCodeBook{}.Encrypt(key.Public(), []byte("abc"))
		require.NoError(t, err)
		_, err = ElectronicCodeBook{}.Decrypt(key.Public(), enc)
		assert.ErrorIs(t, err, ErrPrivateKeyRequired)
	})
}

func TestCounter(t *testing.T) {
	key := setupKey(t)
	size := key.BlockSize()

	t.Run("NonceChangesCiphertext", func(t *testing.T) {
		data := randomBytes(t, size)
		a, err := New(CTR, WithNonce(1))
		require.NoError(t, err)
		b, err := New(CTR, WithNonce(2))
		require.NoError(t, err)

		encA, err := a.Encrypt(key, data)
		require.NoError(t, err)
		encB, err := b.Encrypt(key, data)
		require.NoError(t, err)
		assert.NotEqual(t, encA, encB)
	})

	t.Run("CounterAdvancesPerBlock", func(t *testing.T) {
		block := randomBytes(t, size)
		data := append(append([]byte{}, block...), block...)
		enc, err := Counter{}.Encrypt(key, data)
		require.NoError(t, err)
		assert.NotEqual(t, enc[:size], enc[size:])
	})

	t.Run("FreshStatePerCall", func(t *testing.T) {
		data := randomBytes(t, 3*size+7)
		c := Counter{Nonce: big.NewInt(42)}
		first, err := c.Encrypt(key, data)
		require.NoError(t, err)
		second, err := c.Encrypt(key, data)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("PublicKeyDecrypts", func(t *testing.T) {
		data := randomBytes(t, 2*size+1)
		enc, err := Counter{}.Encrypt(key, data)
		require.NoError(t, err)
		dec, err := Counter{}.Decrypt(key.Public(), enc)
		require.NoError(t, err)
		assert.Equal(t, data, dec)
	})

	t.Run("MatchesManualKeystream", func(t *testing.T) {
		data := []byte{1, 2, 3}
		enc, err := Counter{Nonce: big.NewInt(7)}.Encrypt(key, data)
		require.NoError(t, err)

		ks := key.EncryptBlock(big.NewInt(7)).FillBytes(make([]byte, size))
		for i := range data {
			assert.Equal(t, data[i]^ks[i], enc[i])
		}
	})
}

func TestWrongKey(t *testing.T) {
	key := setupKey(t)
	other, err := rsakey.Generate(512)
	require.NoError(t, err)

	data := randomBytes(t, 300)
	for _, mode := range []Mode{ECB, CTR} {
		t.Run(mode.String(), func(t *testing.T) {
			c, err := New(mode)
			require.NoError(t, err)
			enc, err := c.Encrypt(key, data)
			require.NoError(t, err)

			dec, err := c.Decrypt(other, enc)
			if err == nil {
				assert.NotEqual(t, data, dec)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"ecb", ECB, false},
		{"CTR", CTR, false},
		{" ctr ", CTR, false},
		{"cbc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := New(Mode(9))
	assert.Error(t, err)
	assert.Equal(t, "mode(9)", Mode(9).String())
}

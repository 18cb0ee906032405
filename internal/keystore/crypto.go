package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	"github.com/faanross/pngrsa/internal/params"
)

const kdfName = "pbkdf2-sha256"

// DeriveKey stretches password into an AES-256 key. The key lives in locked
// memory; the caller must Destroy it.
func DeriveKey(password, salt []byte, iterations int) *memguard.LockedBuffer {
	return memguard.NewBufferFromBytes(pbkdf2.Key(password, salt, iterations, params.KEY_SIZE, sha256.New))
}

func newGCM(key *memguard.LockedBuffer) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return gcm, nil
}

// seal encrypts secret under password. aad binds the result to the public
// half of the key.
func seal(secret, password, aad []byte) (*Sealed, error) {
	if len(password) < params.MIN_PASSWORD {
		return nil, ErrPasswordTooShort
	}

	salt := make([]byte, params.SALT_SIZE)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}
	nonce := make([]byte, params.NONCE_SIZE)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	key := DeriveKey(password, salt, params.PBKDF2_ITERS)
	defer key.Destroy()

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, secret, aad)

	return &Sealed{
		KDF:        kdfName,
		Iterations: params.PBKDF2_ITERS,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func open(s *Sealed, password, aad []byte) ([]byte, error) {
	if s.KDF != kdfName {
		return nil, fmt.Errorf("unsupported key derivation %q", s.KDF)
	}
	if s.Iterations <= 0 {
		return nil, fmt.Errorf("invalid iteration count %d", s.Iterations)
	}

	salt, err := base64.StdEncoding.DecodeString(s.Salt)
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}

	key := DeriveKey(password, salt, s.Iterations)
	defer key.Destroy()

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce has %d bytes, want %d", len(nonce), gcm.NonceSize())
	}

	plain, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

// Package keystore saves RSA keypairs as JSON files. The private exponent can
// be sealed with a password (PBKDF2-SHA256 + AES-256-GCM).
package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/faanross/pngrsa/internal/params"
	"github.com/faanross/pngrsa/internal/rsakey"
)

var (
	// ErrWrongPassword is returned when the sealed private exponent does not
	// open, either from a bad password or a tampered file.
	ErrWrongPassword = errors.New("keystore: wrong password or corrupted key file")
	// ErrPasswordRequired is returned by Load on a sealed file without a password.
	ErrPasswordRequired = errors.New("keystore: key file is sealed, password required")
	// ErrPasswordTooShort is returned when sealing with a short password.
	ErrPasswordTooShort = fmt.Errorf("keystore: password must be at least %d characters", params.MIN_PASSWORD)
	// ErrNoPrivateKey is returned by Save for a public-only keypair.
	ErrNoPrivateKey = errors.New("keystore: keypair has no private exponent")
)

// File is the on-disk form of a keypair. Numbers are decimal strings.
// PrivateExponent and Sealed are mutually exclusive; both are empty in a
// public key file.
type File struct {
	ID              string    `json:"id"`
	Bits            int       `json:"bits"`
	Modulus         string    `json:"modulus"`
	PublicExponent  string    `json:"public_exponent"`
	PrivateExponent string    `json:"private_exponent,omitempty"`
	Sealed          *Sealed   `json:"sealed,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Sealed holds a password-encrypted private exponent.
type Sealed struct {
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Public reports whether the file carries no private exponent at all.
func (f *File) Public() bool {
	return f.PrivateExponent == "" && f.Sealed == nil
}

// Fingerprint is a short identifier of a public key: the first 8 bytes of the
// SHA-256 of its modulus, hex encoded.
func Fingerprint(kp *rsakey.KeyPair) string {
	sum := sha256.Sum256(kp.N().Bytes())
	return hex.EncodeToString(sum[:8])
}

// Save writes kp to path. With a non-empty password the private exponent is
// sealed; without one it is stored in clear. The file is created with 0600.
func Save(path string, kp *rsakey.KeyPair, password []byte) (*File, error) {
	if !kp.HasPrivate() {
		return nil, ErrNoPrivateKey
	}

	f := newFile(kp)
	d := kp.D().String()
	if len(password) == 0 {
		f.PrivateExponent = d
	} else {
		sealed, err := seal([]byte(d), password, []byte(f.Modulus))
		if err != nil {
			return nil, err
		}
		f.Sealed = sealed
	}

	if err := writeJSON(path, f, 0600); err != nil {
		return nil, err
	}
	return f, nil
}

// SavePublic writes only the modulus and public exponent of kp.
func SavePublic(path string, kp *rsakey.KeyPair) (*File, error) {
	f := newFile(kp)
	if err := writeJSON(path, f, 0644); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads a key file. A sealed file needs the password it was saved with;
// a public key file yields a keypair without private exponent.
func Load(path string, password []byte) (*rsakey.KeyPair, *File, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, nil, err
	}

	d := f.PrivateExponent
	if f.Sealed != nil {
		if len(password) == 0 {
			return nil, nil, ErrPasswordRequired
		}
		plain, err := open(f.Sealed, password, []byte(f.Modulus))
		if err != nil {
			return nil, nil, err
		}
		d = string(plain)
	}

	kp, err := rsakey.ParseKeys(f.Modulus, f.PublicExponent, d)
	if err != nil {
		return nil, nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return kp, f, nil
}

// LoadPublic reads only the public half of a key file, so sealed files open
// without a password.
func LoadPublic(path string) (*rsakey.KeyPair, *File, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, nil, err
	}
	kp, err := rsakey.ParseKeys(f.Modulus, f.PublicExponent, "")
	if err != nil {
		return nil, nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return kp, f, nil
}

func readFile(path string) (*File, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", rsakey.ErrInvalidKeyFormat, err)
	}
	return &f, nil
}

func newFile(kp *rsakey.KeyPair) *File {
	return &File{
		ID:             uuid.NewString(),
		Bits:           kp.Bits(),
		Modulus:        kp.N().String(),
		PublicExponent: kp.E().String(),
		CreatedAt:      time.Now().UTC(),
	}
}

// writeJSON writes v to a temp file, then renames it over path.
func writeJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key file: %w", err)
	}

	path = filepath.Clean(path)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Package keyserver publishes RSA public keys as DNS TXT records and fetches
// them back.
//
// A key is one TXT record made of several strings:
//
//	"v=pngrsa1" "bits=1024" "e0=..." "n0=..." "n1=..." ...
//
// Exponent and modulus are decimal, split into parts of at most
// TXT_CHUNK_SIZE characters so every string stays below the 255 byte limit.
package keyserver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/faanross/pngrsa/internal/params"
	"github.com/faanross/pngrsa/internal/rsakey"
)

var (
	// ErrNotFound is returned when nothing is published under the name.
	ErrNotFound = errors.New("keyserver: no key published under that name")
	// ErrBadRecord is returned when TXT strings do not describe a key.
	ErrBadRecord = errors.New("keyserver: malformed key record")
)

// Encode renders the TXT strings for the public half of kp.
func Encode(kp *rsakey.KeyPair) []string {
	txt := []string{params.TXT_VERSION, "bits=" + strconv.Itoa(kp.Bits())}
	txt = append(txt, split("e", kp.E().String())...)
	txt = append(txt, split("n", kp.N().String())...)
	return txt
}

func split(prefix, value string) []string {
	var parts []string
	for i := 0; len(value) > 0; i++ {
		n := min(params.TXT_CHUNK_SIZE, len(value))
		parts = append(parts, prefix+strconv.Itoa(i)+"="+value[:n])
		value = value[n:]
	}
	return parts
}

// Decode rebuilds a public-only keypair from TXT strings produced by Encode.
// String order does not matter.
func Decode(txt []string) (*rsakey.KeyPair, error) {
	var version bool
	bits := -1
	parts := map[string]map[int]string{"e": {}, "n": {}}

	for _, s := range txt {
		if s == params.TXT_VERSION {
			version = true
			continue
		}
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadRecord, s)
		}
		if key == "v" {
			return nil, fmt.Errorf("%w: unsupported version %q", ErrBadRecord, value)
		}
		if key == "bits" {
			b, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bits %q", ErrBadRecord, value)
			}
			bits = b
			continue
		}

		if len(key) < 2 {
			return nil, fmt.Errorf("%w: unknown field %q", ErrBadRecord, key)
		}
		field, ok := parts[key[:1]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrBadRecord, key)
		}
		idx, err := strconv.Atoi(key[1:])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: bad part index in %q", ErrBadRecord, key)
		}
		if _, dup := field[idx]; dup {
			return nil, fmt.Errorf("%w: duplicate part %q", ErrBadRecord, key)
		}
		field[idx] = value
	}

	if !version {
		return nil, fmt.Errorf("%w: missing %s", ErrBadRecord, params.TXT_VERSION)
	}

	e, err := join("e", parts["e"])
	if err != nil {
		return nil, err
	}
	n, err := join("n", parts["n"])
	if err != nil {
		return nil, err
	}

	kp, err := rsakey.ParseKeys(n, e, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRecord, err)
	}
	if bits >= 0 && kp.Bits() != bits {
		return nil, fmt.Errorf("%w: record says %d bits, modulus has %d", ErrBadRecord, bits, kp.Bits())
	}
	return kp, nil
}

func join(prefix string, field map[int]string) (string, error) {
	if len(field) == 0 {
		return "", fmt.Errorf("%w: missing %s0", ErrBadRecord, prefix)
	}
	idx := make([]int, 0, len(field))
	for i := range field {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var b strings.Builder
	for want, i := range idx {
		if i != want {
			return "", fmt.Errorf("%w: missing %s%d", ErrBadRecord, prefix, want)
		}
		b.WriteString(field[i])
	}
	return b.String(), nil
}

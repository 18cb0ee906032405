package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/pngrsa/internal/params"
)

func TestDefaults(t *testing.T) {
	v, err := New("", t.TempDir())
	require.NoError(t, err)

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, params.DEFAULT_KEY_BITS, s.KeyBits)
	assert.Equal(t, params.MODE_ECB, s.Mode)
	assert.Equal(t, int64(params.CTR_NONCE), s.Nonce)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "console", s.Log.Type)
	assert.Equal(t, "keys.pngrsa.local", s.KeyServer.Zone)
}

func TestConfigFile(t *testing.T) {
	home := t.TempDir()
	content := []byte(`
key_bits: 2048
mode: ctr
nonce: 42
workers: 8
log:
  level: debug
  format: json
keyserver:
  addr: 0.0.0.0:53
  zone: keys.example.org
`)
	require.NoError(t, os.WriteFile(DefaultPath(home), content, 0600))

	v, err := New("", home)
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 2048, s.KeyBits)
	assert.Equal(t, "ctr", s.Mode)
	assert.Equal(t, int64(42), s.Nonce)
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, "console", s.Log.Type, "unset nested keys keep their default")
	assert.Equal(t, "0.0.0.0:53", s.KeyServer.Addr)

	// an explicit file must exist
	_, err = New(filepath.Join(home, "missing.yaml"), "")
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("PNGRSA_MODE", "ctr")
	t.Setenv("PNGRSA_KEY_BITS", "4096")
	t.Setenv("PNGRSA_LOG_LEVEL", "warn")

	v, err := New("", t.TempDir())
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "ctr", s.Mode)
	assert.Equal(t, 4096, s.KeyBits)
	assert.Equal(t, "warn", s.Log.Level)
}

func TestValidate(t *testing.T) {
	v, err := New("", t.TempDir())
	require.NoError(t, err)
	good, err := Load(v)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Settings)
		errs   int
	}{
		{"KeyBits", func(s *Settings) { s.KeyBits = 768 }, 1},
		{"Mode", func(s *Settings) { s.Mode = "cbc" }, 1},
		{"Workers", func(s *Settings) { s.Workers = 0 }, 1},
		{"TooManyWorkers", func(s *Settings) { s.Workers = 65 }, 1},
		{"LogLevel", func(s *Settings) { s.Log.Level = "loud" }, 1},
		{"LogFileWithoutPath", func(s *Settings) { s.Log.Type = "file" }, 1},
		{"ServerAddr", func(s *Settings) { s.KeyServer.Addr = "nowhere" }, 1},
		{"Several", func(s *Settings) { s.Mode = ""; s.Workers = 100; s.KeyBits = 1 }, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *good
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)

			var merr *multierror.Error
			require.True(t, errors.As(err, &merr))
			assert.Len(t, merr.Errors, tt.errs)
		})
	}

	assert.NoError(t, good.Validate())
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	s := DefaultSettings()
	s.Console = &buf

	logger, err := New(s)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.Debug("hidden")
	logger.WithField("run_id", "abc").Info("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "run_id=abc")
	assert.NoError(t, Close(logger))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Settings{Level: LevelDebug, Type: TypeConsole, Format: FormatJSON, Console: &buf})
	require.NoError(t, err)

	logger.WithField("mode", "ctr").Debug("transformed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transformed", entry["msg"])
	assert.Equal(t, "ctr", entry["mode"])
	assert.Equal(t, "debug", entry["level"])
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pngrsa.log")
	s := DefaultSettings()
	s.Type = TypeFile
	s.FilePath = path

	logger, err := New(s)
	require.NoError(t, err)

	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	require.NoError(t, Close(logger))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(content)
	assert.Contains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "level=error")
}

func TestSilent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Settings{Level: LevelSilent, Type: TypeConsole, Console: &buf})
	require.NoError(t, err)
	logger.Error("nothing")
	assert.Zero(t, buf.Len())

	Discard().Error("nothing either")
}

func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
	}{
		{"Level", Settings{Level: "loud", Type: TypeConsole}},
		{"Type", Settings{Level: LevelInfo, Type: "syslog"}},
		{"Format", Settings{Level: LevelInfo, Type: TypeConsole, Format: "xml"}},
		{"FileWithoutPath", Settings{Level: LevelInfo, Type: TypeFile}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.s)
			assert.Error(t, err)
		})
	}
}

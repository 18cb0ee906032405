// Package logging builds the logrus logger used across pngrsa.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log level names
const (
	LevelSilent = "silent"
	LevelError  = "error"
	LevelWarn   = "warn"
	LevelInfo   = "info"
	LevelDebug  = "debug"
	LevelTrace  = "trace"
)

// Log output types
const (
	TypeConsole = "console"
	TypeFile    = "file"
)

// Log formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Settings selects level, destination and format of the log.
type Settings struct {
	Level      string `mapstructure:"level" validate:"required,oneof=silent error warn info debug trace"`
	Type       string `mapstructure:"type" validate:"required,oneof=console file"`
	Format     string `mapstructure:"format" validate:"required,oneof=text json"`
	FilePath   string `mapstructure:"file_path" validate:"required_if=Type file"`
	MaxSize    int    `mapstructure:"max_size" validate:"omitempty,min=1,max=100"`
	MaxBackups int    `mapstructure:"max_backups" validate:"omitempty,min=1,max=10"`
	MaxAge     int    `mapstructure:"max_age" validate:"omitempty,min=1,max=365"`

	// Console is where console logs go; nil means stderr.
	Console io.Writer `mapstructure:"-"`
}

// DefaultSettings logs info and above as text to stderr.
func DefaultSettings() Settings {
	return Settings{
		Level:      LevelInfo,
		Type:       TypeConsole,
		Format:     FormatText,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// New creates a logger from s. File output is rotated by size.
func New(s Settings) (*logrus.Logger, error) {
	logger := logrus.New()

	switch strings.ToLower(s.Format) {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case FormatText, "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", s.Format)
	}

	level := strings.ToLower(s.Level)
	if level == LevelSilent {
		logger.SetOutput(io.Discard)
		return logger, nil
	}
	if level == "" {
		level = LevelInfo
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", s.Level)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(s.Type) {
	case TypeFile:
		if s.FilePath == "" {
			return nil, fmt.Errorf("file path is required for file logger")
		}
		logger.SetOutput(&lumberjack.Logger{
			Filename:   s.FilePath,
			MaxSize:    s.MaxSize,
			MaxBackups: s.MaxBackups,
			MaxAge:     s.MaxAge,
			Compress:   true,
		})
	case TypeConsole, "":
		if s.Console != nil {
			logger.SetOutput(s.Console)
		} else {
			logger.SetOutput(os.Stderr)
		}
	default:
		return nil, fmt.Errorf("unknown log type %q", s.Type)
	}

	return logger, nil
}

// Close releases the log file behind logger, if any.
func Close(logger *logrus.Logger) error {
	if c, ok := logger.Out.(*lumberjack.Logger); ok {
		return c.Close()
	}
	return nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

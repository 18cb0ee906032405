package cmd

import (
	"io"

	"github.com/faanross/pngrsa/internal/keystore"
)

type passwordReader interface {
	ReadPassword(prompt string) ([]byte, error)
	ReadNewPassword() ([]byte, error)
}

type stdInPasswordReader struct{}

func (stdInPasswordReader) ReadPassword(prompt string) ([]byte, error) {
	return keystore.PromptPassword(prompt)
}

func (stdInPasswordReader) ReadNewPassword() ([]byte, error) {
	return keystore.PromptNewPassword()
}

// WithCfgFile sets the config file used instead of $HOME/.pngrsa.yaml.
func WithCfgFile(f string) func(c *command) {
	return func(c *command) {
		c.cfgFile = f
	}
}

// WithHomeDir sets the directory searched for the default config file.
func WithHomeDir(dir string) func(c *command) {
	return func(c *command) {
		c.homeDir = dir
	}
}

func WithArgs(a ...string) func(c *command) {
	return func(c *command) {
		c.root.SetArgs(a)
	}
}

func WithInput(r io.Reader) func(c *command) {
	return func(c *command) {
		c.root.SetIn(r)
	}
}

func WithOutput(w io.Writer) func(c *command) {
	return func(c *command) {
		c.root.SetOut(w)
	}
}

func WithErrorOutput(w io.Writer) func(c *command) {
	return func(c *command) {
		c.root.SetErr(w)
	}
}

func WithPasswordReader(r passwordReader) func(c *command) {
	return func(c *command) {
		c.passwordReader = r
	}
}

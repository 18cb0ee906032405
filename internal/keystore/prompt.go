package keystore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/faanross/pngrsa/internal/params"
)

// PromptPassword asks for a password on the terminal with echo off.
func PromptPassword(prompt string) ([]byte, error) {
	return readPassword(os.Stderr, prompt, func() ([]byte, error) {
		return term.ReadPassword(int(os.Stdin.Fd()))
	})
}

// PromptNewPassword asks twice and checks that both entries match and are
// long enough.
func PromptNewPassword() ([]byte, error) {
	first, err := PromptPassword("🔑 New key file password: ")
	if err != nil {
		return nil, err
	}
	if len(first) < params.MIN_PASSWORD {
		return nil, ErrPasswordTooShort
	}
	second, err := PromptPassword("🔑 Repeat password: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

func readPassword(out io.Writer, prompt string, read func() ([]byte, error)) ([]byte, error) {
	fmt.Fprint(out, prompt)
	password, err := read()
	fmt.Fprintln(out)

	if err != nil {
		return nil, fmt.Errorf("password read failed: %w", err)
	}
	return password, nil
}

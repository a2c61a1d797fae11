package display

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when a prompt needs a terminal but has none
var ErrNotTerminal = errors.New("input is not a terminal")

// IsInteractive reports whether f is attached to a terminal
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PromptPassword reads a secret from in without echoing it
func PromptPassword(in *os.File, out io.Writer, prompt string) (string, error) {
	if !IsInteractive(in) {
		return "", ErrNotTerminal
	}

	fmt.Fprint(out, prompt)
	secret, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

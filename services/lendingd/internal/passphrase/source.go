package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves the signer keystore passphrase once, from the environment
// or an interactive prompt, and caches the result.
type Source struct {
	envVar string
	label  string

	lookupEnv   func(string) (string, bool)
	interactive func() bool
	prompt      func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the terminal. label names the
// secret in prompts and errors.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore passphrase"
	}
	return &Source{
		envVar:      strings.TrimSpace(envVar),
		label:       label,
		lookupEnv:   os.LookupEnv,
		interactive: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		prompt:      readTerminal,
	}
}

// Get returns the cached passphrase or resolves it on first use. A set but
// blank variable is an error rather than a fallback to the prompt.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.interactive() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}
	value, err := s.prompt(s.label)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New(s.label + " cannot be empty")
	}
	return value, nil
}

func readTerminal(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter %s: ", label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

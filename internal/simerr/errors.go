// Package simerr holds the error taxonomy shared by the simulation packages.
//
// Configuration and invariant errors are fatal: they propagate to the
// orchestrator and halt the run. Capacity exhaustion and degenerate groups are
// not errors and never surface here.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigError.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariant matches every *InvariantError.
	ErrInvariant = errors.New("simulation invariant violated")
)

// ConfigError reports a malformed or inconsistent disease, policy or
// interaction configuration.
type ConfigError struct {
	Key      string
	Expected string
	Found    string
	Err      error
}

// Config builds a ConfigError for key with the expected and found structure.
func Config(key, expected, found string) *ConfigError {
	return &ConfigError{Key: key, Expected: expected, Found: found}
}

// Configf wraps err as a ConfigError for key.
func Configf(key string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Expected: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration error at %q: expected %s", e.Key, e.Expected)
	if e.Found != "" {
		msg += ", found " + e.Found
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigError) Unwrap() error { return e.Err }

// InvariantError reports a logic bug detected while the run was in progress.
type InvariantError struct {
	Op     string
	Detail string
}

// Invariant builds an InvariantError for op.
func Invariant(op, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

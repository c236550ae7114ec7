// Package secret holds configured credentials inside memguard enclaves so
// the plaintext is encrypted at rest in process memory and never printed.
package secret

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
)

// ErrUnset is returned by Use when the value was never configured.
var ErrUnset = errors.New("secret not configured")

const redacted = "[redacted]"

// Value is an immutable, possibly empty secret. The zero Value is unset.
// Copies share the same enclave.
type Value struct {
	enclave *memguard.Enclave
}

// New seals s into an enclave. An empty string yields an unset Value.
func New(s string) Value {
	if s == "" {
		return Value{}
	}
	// NewEnclave wipes its input, so hand it a private copy.
	return Value{enclave: memguard.NewEnclave([]byte(s))}
}

// IsSet reports whether a non-empty secret was configured.
func (v Value) IsSet() bool {
	return v.enclave != nil
}

// Use opens the enclave and passes the plaintext to fn. The buffer is
// destroyed when fn returns, so fn must not retain it.
func (v Value) Use(fn func(plain []byte)) error {
	if v.enclave == nil {
		return ErrUnset
	}
	buf, err := v.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	fn(buf.Bytes())
	return nil
}

// Equal compares candidate against the secret in constant time.
// An unset Value equals nothing, including the empty string.
func (v Value) Equal(candidate string) bool {
	eq := false
	err := v.Use(func(plain []byte) {
		eq = subtle.ConstantTimeCompare(plain, []byte(candidate)) == 1
	})
	return err == nil && eq
}

// Reveal copies the plaintext out of the enclave. The caller owns the copy.
func (v Value) Reveal() (string, error) {
	var s string
	err := v.Use(func(plain []byte) {
		s = string(plain)
	})
	return s, err
}

// Or returns v when set and fallback otherwise.
func (v Value) Or(fallback Value) Value {
	if v.IsSet() {
		return v
	}
	return fallback
}

func (v Value) String() string {
	if !v.IsSet() {
		return ""
	}
	return redacted
}

// LogValue keeps secrets out of structured logs.
func (v Value) LogValue() slog.Value {
	return slog.StringValue(v.String())
}

// GoString covers %#v.
func (v Value) GoString() string {
	return "secret.Value(" + v.String() + ")"
}

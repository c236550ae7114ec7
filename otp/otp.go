// Package otp implements RFC 4226 HOTP and RFC 6238 TOTP codes for the
// admin second factor.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/gatehouse/internal/util"
)

const (
	Digits      = 6
	Period      = 30
	Window      = 1
	SecretBytes = 20

	modulus = 1_000_000
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// NormalizeSecret upper-cases s and drops every character outside the
// Base32 alphabet, including padding and whitespace.
func NormalizeSecret(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeBase32 decodes text leniently: characters outside the alphabet are
// skipped and trailing bits that do not fill a byte are dropped. It never
// fails; garbage in yields bytes that match no real authenticator.
func DecodeBase32(text string) []byte {
	clean := NormalizeSecret(text)
	out := make([]byte, 0, len(clean)*5/8)

	var acc uint32
	var bits uint
	for i := 0; i < len(clean); i++ {
		acc = acc<<5 | uint32(strings.IndexByte(base32Alphabet, clean[i]))
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	return out
}

// HOTP computes the 6-digit code for key at counter.
func HOTP(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", Digits, code%modulus)
}

// Counter returns the TOTP time step containing t.
func Counter(t time.Time) uint64 {
	return uint64(t.Unix() / Period)
}

// CodeAt returns the TOTP code for a Base32 secret at t.
func CodeAt(secret string, t time.Time) string {
	return HOTP(DecodeBase32(secret), Counter(t))
}

// GenerateSecret returns a fresh random secret in unpadded Base32.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(SecretBytes)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(raw)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// Verifier checks submitted codes against the current time step and its
// immediate neighbours.
type Verifier struct {
	now func() time.Time
}

// NewVerifier returns a Verifier reading time from clock, or from
// time.Now when clock is nil.
func NewVerifier(clock func() time.Time) *Verifier {
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{now: clock}
}

// Verify reports whether code matches secret at counter-1, counter or
// counter+1. Empty input never matches.
func (v *Verifier) Verify(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	code = normalizeCode(code)
	if !validCode(code) {
		return false
	}
	key := DecodeBase32(secret)
	defer util.WipeBytes(key)
	if len(key) == 0 {
		return false
	}

	counter := Counter(v.now())
	match := 0
	for i := -Window; i <= Window; i++ {
		if i < 0 && counter < uint64(-i) {
			continue
		}
		expected := HOTP(key, uint64(int64(counter)+int64(i)))
		// Check every step so timing does not reveal which one matched.
		match |= subtle.ConstantTimeCompare([]byte(expected), []byte(code))
	}
	return match == 1
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

func validCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Package token mints and verifies the stateless admin session token:
//
//	base64url(json{"iat":<unix millis>,"nonce":<base64url 12 bytes>}) "." base64url(HMAC-SHA256(key, encodedPayload))
//
// Both segments use unpadded base64url. There is no server-side session
// store; a token stays valid until its TTL lapses or the key is rotated.
package token

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/gatehouse/internal/secret"
	"github.com/jmcleod/gatehouse/internal/util"
)

const (
	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = time.Hour
	nonceBytes = 12
)

var (
	// ErrNoSessionSecret means no signing key is configured. Nothing can be
	// minted or verified until one is.
	ErrNoSessionSecret = errors.New("no session secret configured")

	// ErrInvalid is wrapped by every verification failure below. Callers
	// should treat all of them as "no session".
	ErrInvalid      = errors.New("invalid session token")
	ErrMalformed    = fmt.Errorf("%w: malformed", ErrInvalid)
	ErrBadSignature = fmt.Errorf("%w: signature mismatch", ErrInvalid)
	ErrExpired      = fmt.Errorf("%w: expired", ErrInvalid)
)

// Claims are the verified contents of a token.
type Claims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     string
}

type mintPayload struct {
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"nonce"`
}

// parsedPayload uses a pointer so a missing or non-numeric iat is rejected
// rather than read as zero.
type parsedPayload struct {
	IssuedAt *float64 `json:"iat"`
	Nonce    string   `json:"nonce"`
}

// Codec mints and verifies tokens. It is immutable and safe for concurrent
// use.
type Codec struct {
	key    secret.Value
	ttl    time.Duration
	signer Signer
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithSigner selects the HMAC backend. Defaults to StdSigner.
func WithSigner(s Signer) Option {
	return func(c *Codec) {
		c.signer = s
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// New returns a Codec signing with key. A non-positive ttl means DefaultTTL.
func New(key secret.Value, ttl time.Duration, opts ...Option) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Codec{
		key:    key,
		ttl:    ttl,
		signer: StdSigner,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAge is the configured lifetime, used for the cookie Max-Age.
func (c *Codec) MaxAge() time.Duration {
	return c.ttl
}

// SignerName reports which backend the codec signs with.
func (c *Codec) SignerName() string {
	return c.signer.Name()
}

// Mint issues a new token stamped with the current time.
func (c *Codec) Mint() (string, error) {
	if !c.key.IsSet() {
		return "", ErrNoSessionSecret
	}
	nonce, err := util.RandomURLToken(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("generating session nonce: %w", err)
	}
	raw, err := json.Marshal(mintPayload{IssuedAt: c.now().UnixMilli(), Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("encoding session payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	sig, err := c.sign(encoded)
	if err != nil {
		return "", err
	}
	return encoded + "." + sig, nil
}

// Verify returns nil when tok carries a valid signature and has not expired.
func (c *Codec) Verify(tok string) error {
	_, err := c.Inspect(tok)
	return err
}

// Valid is Verify as a boolean.
func (c *Codec) Valid(tok string) bool {
	return c.Verify(tok) == nil
}

// Inspect verifies tok and returns its claims.
func (c *Codec) Inspect(tok string) (Claims, error) {
	if !c.key.IsSet() {
		return Claims{}, ErrNoSessionSecret
	}
	encoded, sig, ok := strings.Cut(tok, ".")
	if !ok || encoded == "" || sig == "" {
		return Claims{}, ErrMalformed
	}

	expected, err := c.sign(encoded)
	if err != nil {
		return Claims{}, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return Claims{}, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	var p parsedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.IssuedAt == nil {
		return Claims{}, ErrMalformed
	}

	now := c.now()
	if float64(now.UnixMilli())-*p.IssuedAt > float64(c.ttl.Milliseconds()) {
		return Claims{}, ErrExpired
	}

	issued := time.UnixMilli(int64(*p.IssuedAt))
	return Claims{
		IssuedAt:  issued,
		ExpiresAt: issued.Add(c.ttl),
		Nonce:     p.Nonce,
	}, nil
}

func (c *Codec) sign(encoded string) (string, error) {
	var sig string
	err := c.key.Use(func(key []byte) {
		sig = base64.RawURLEncoding.EncodeToString(c.signer.Sign(key, []byte(encoded)))
	})
	if errors.Is(err, secret.ErrUnset) {
		return "", ErrNoSessionSecret
	}
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return sig, nil
}

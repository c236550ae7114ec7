package token

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/internal/secret"
)

// knownToken was produced independently for key "s3cr3t" and payload
// {"iat":1700000000000,"nonce":"AAAAAAAAAAAAAAAA"}.
const knownToken = "eyJpYXQiOjE3MDAwMDAwMDAwMDAsIm5vbmNlIjoiQUFBQUFBQUFBQUFBQUFBQSJ9.KjuqxVVJLrqL8zw1b1b24OulCLlGx_xZTxyc1Mrxw70"

var epoch = time.UnixMilli(1700000000000)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCodec(t *testing.T, opts ...Option) (*Codec, *clock) {
	t.Helper()
	clk := &clock{t: epoch}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return New(secret.New("s3cr3t"), time.Hour, opts...), clk
}

func TestMintVerifyRoundTrip(t *testing.T) {
	c, clk := newTestCodec(t)

	tok, err := c.Mint()
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(tok, "."))
	assert.NotContains(t, tok, "=")

	claims, err := c.Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, epoch, claims.IssuedAt)
	assert.Equal(t, epoch.Add(time.Hour), claims.ExpiresAt)
	assert.Len(t, claims.Nonce, 16)

	clk.t = epoch.Add(time.Hour)
	assert.NoError(t, c.Verify(tok), "valid at exactly iat+TTL")

	clk.t = epoch.Add(time.Hour + time.Millisecond)
	assert.ErrorIs(t, c.Verify(tok), ErrExpired)
	assert.ErrorIs(t, c.Verify(tok), ErrInvalid)
}

func TestMint_FreshNonceEachTime(t *testing.T) {
	c, _ := newTestCodec(t)
	a, err := c.Mint()
	require.NoError(t, err)
	b, err := c.Mint()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_KnownToken(t *testing.T) {
	for _, s := range []Signer{StdSigner, SIMDSigner} {
		t.Run(s.Name(), func(t *testing.T) {
			c, _ := newTestCodec(t, WithSigner(s))
			claims, err := c.Inspect(knownToken)
			require.NoError(t, err)
			assert.Equal(t, "AAAAAAAAAAAAAAAA", claims.Nonce)
		})
	}
}

func TestVerify_SignatureTamper(t *testing.T) {
	c, _ := newTestCodec(t)
	tok, err := c.Mint()
	require.NoError(t, err)

	dot := strings.IndexByte(tok, '.')
	for i := dot + 1; i < len(tok); i++ {
		flipped := []byte(tok)
		if flipped[i] == 'A' {
			flipped[i] = 'B'
		} else {
			flipped[i] = 'A'
		}
		assert.ErrorIs(t, c.Verify(string(flipped)), ErrBadSignature, "flip at %d", i)
	}
}

func TestVerify_PayloadTamper(t *testing.T) {
	c, _ := newTestCodec(t)
	payload, sig, _ := strings.Cut(knownToken, ".")

	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"iat":9999999999999,"nonce":"AAAAAAAAAAAAAAAA"}`))
	assert.ErrorIs(t, c.Verify(forged+"."+sig), ErrBadSignature)
	assert.ErrorIs(t, c.Verify(payload+"."+sig+"x"), ErrBadSignature)
}

func TestVerify_WrongKey(t *testing.T) {
	other := New(secret.New("another"), time.Hour, WithClock(func() time.Time { return epoch }))
	assert.ErrorIs(t, other.Verify(knownToken), ErrBadSignature)
}

func TestVerify_Malformed(t *testing.T) {
	c, _ := newTestCodec(t)
	signed := func(payload string) string {
		sig, err := c.sign(payload)
		require.NoError(t, err)
		return payload + "." + sig
	}
	b64 := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := map[string]string{
		"empty":           "",
		"no separator":    "abcdef",
		"empty payload":   ".abc",
		"empty signature": "abc.",
		"bad base64":      signed("!!!not-base64!!!"),
		"not json":        signed(b64("iat=1")),
		"iat missing":     signed(b64(`{"nonce":"x"}`)),
		"iat string":      signed(b64(`{"iat":"1700000000000","nonce":"x"}`)),
		"iat null":        signed(b64(`{"iat":null,"nonce":"x"}`)),
		"json array":      signed(b64(`[1700000000000]`)),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			err := c.Verify(tok)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestNoSessionSecret_FailsClosed(t *testing.T) {
	c := New(secret.Value{}, time.Hour)

	tok, err := c.Mint()
	assert.ErrorIs(t, err, ErrNoSessionSecret)
	assert.Empty(t, tok)

	assert.ErrorIs(t, c.Verify(knownToken), ErrNoSessionSecret)
	assert.False(t, c.Valid(knownToken))
}

func TestNew_DefaultTTL(t *testing.T) {
	c := New(secret.New("k"), 0)
	assert.Equal(t, DefaultTTL, c.MaxAge())
	assert.Equal(t, "std", c.SignerName())
}

func TestSigners_RFC4231Vector(t *testing.T) {
	want, err := hex.DecodeString("5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843")
	require.NoError(t, err)
	for _, s := range []Signer{StdSigner, SIMDSigner} {
		assert.Equal(t, want, s.Sign([]byte("Jefe"), []byte("what do ya want for nothing?")), s.Name())
	}
}

func TestSigners_ByteIdentical(t *testing.T) {
	keys := [][]byte{nil, []byte("s3cr3t"), []byte(strings.Repeat("k", 64)), []byte(strings.Repeat("long-key", 40))}
	msgs := [][]byte{nil, []byte("a"), []byte(strings.Repeat("payload", 100))}
	for _, k := range keys {
		for _, m := range msgs {
			assert.Equal(t, StdSigner.Sign(k, m), SIMDSigner.Sign(k, m), "key len %d msg len %d", len(k), len(m))
		}
	}
}

func TestSigners_CrossVerify(t *testing.T) {
	minter, _ := newTestCodec(t, WithSigner(StdSigner))
	gateway, _ := newTestCodec(t, WithSigner(SIMDSigner))

	tok, err := minter.Mint()
	require.NoError(t, err)
	assert.NoError(t, gateway.Verify(tok))

	tok, err = gateway.Mint()
	require.NoError(t, err)
	assert.NoError(t, minter.Verify(tok))
}

func TestSignerByName(t *testing.T) {
	s, err := SignerByName("simd")
	require.NoError(t, err)
	assert.Equal(t, "simd", s.Name())

	s, err = SignerByName("")
	require.NoError(t, err)
	assert.Equal(t, "std", s.Name())

	_, err = SignerByName("webcrypto")
	assert.Error(t, err)
}

package util

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestBytes(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", b)
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomURLToken", func(t *testing.T) {
		s1, err := RandomURLToken(12)
		if err != nil {
			t.Fatalf("RandomURLToken failed: %v", err)
		}
		s2, err := RandomURLToken(12)
		if err != nil {
			t.Fatalf("RandomURLToken failed: %v", err)
		}
		if len(s1) != 16 {
			t.Errorf("expected 16 chars for 12 bytes, got %d", len(s1))
		}
		if s1 == s2 {
			t.Error("RandomURLToken should produce different outputs")
		}
		raw, err := base64.RawURLEncoding.DecodeString(s1)
		if err != nil || len(raw) != 12 {
			t.Errorf("token %q is not 12 bytes of raw base64url: %v", s1, err)
		}
	})
}

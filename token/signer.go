package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"hash"

	sha256simd "github.com/minio/sha256-simd"
)

// Signer computes HMAC-SHA256 tags. Every implementation must produce
// byte-identical output for the same key and message, because tokens minted
// through one signer are verified through another.
type Signer interface {
	Name() string
	Sign(key, message []byte) []byte
}

type hmacSigner struct {
	name    string
	newHash func() hash.Hash
}

func (s hmacSigner) Name() string { return s.name }

func (s hmacSigner) Sign(key, message []byte) []byte {
	mac := hmac.New(s.newHash, key)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

var (
	// StdSigner uses the standard library SHA-256. Session endpoints mint
	// with it by default.
	StdSigner Signer = hmacSigner{name: "std", newHash: sha256.New}

	// SIMDSigner uses the SIMD-accelerated SHA-256 from minio. The gateway,
	// which verifies on every admin request, uses it by default.
	SIMDSigner Signer = hmacSigner{name: "simd", newHash: sha256simd.New}
)

// SignerNames lists the names accepted by SignerByName.
var SignerNames = []string{"std", "simd"}

// SignerByName resolves a configured backend name.
func SignerByName(name string) (Signer, error) {
	switch name {
	case "std", "":
		return StdSigner, nil
	case "simd":
		return SIMDSigner, nil
	default:
		return nil, fmt.Errorf("unknown signer %q (want one of %v)", name, SignerNames)
	}
}

// Package crypto defines the signature-verification and hashing collaborators
// consumed by the trust core. The core never names an algorithm; it talks to
// these interfaces and the concrete primitives are injected at wiring time.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

// Verifier checks a detached signature over a payload.
type Verifier interface {
	Verify(payload, signature, publicKey []byte) bool
}

// Hasher produces a content hash for tamper evidence.
type Hasher interface {
	Hash(payload []byte) string
}

// Ed25519Verifier verifies Ed25519 signatures.
type Ed25519Verifier struct{}

// Verify reports whether signature is a valid Ed25519 signature of payload
// under publicKey. Malformed keys verify as false rather than panicking.
func (Ed25519Verifier) Verify(payload, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature)
}

// SHA256Hasher hashes payloads with SHA-256, hex encoded.
type SHA256Hasher struct{}

// Hash returns the hex-encoded SHA-256 digest of payload.
func (SHA256Hasher) Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}

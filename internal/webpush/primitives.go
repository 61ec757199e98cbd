// Package webpush implements Message Encryption for Web Push (RFC 8291) using the
// aes128gcm content coding from RFC 8188.
package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Primitives is the set of cryptographic operations the message encryption is
// built from. The orchestration in this package only talks to this interface.
type Primitives interface {
	// GenerateKey returns a fresh ephemeral P-256 key pair.
	GenerateKey() (*ecdh.PrivateKey, error)
	// ImportPublicKey parses an uncompressed P-256 point.
	ImportPublicKey(raw []byte) (*ecdh.PublicKey, error)
	// HKDF runs HMAC-SHA-256 extract-then-expand and returns length bytes.
	HKDF(salt, ikm, info []byte, length int) ([]byte, error)
	// Seal encrypts with AES-128-GCM, no additional data, tag appended.
	Seal(key, nonce, plaintext []byte) ([]byte, error)
	// Salt returns SaltSize fresh random bytes.
	Salt() ([]byte, error)
}

type stdPrimitives struct {
	rand io.Reader
}

// NewPrimitives returns Primitives backed by crypto/ecdh, crypto/aes and
// x/crypto/hkdf. A nil reader means crypto/rand.
func NewPrimitives(r io.Reader) Primitives {
	if r == nil {
		r = rand.Reader
	}
	return stdPrimitives{rand: r}
}

func (p stdPrimitives) GenerateKey() (*ecdh.PrivateKey, error) {
	return ecdh.P256().GenerateKey(p.rand)
}

func (p stdPrimitives) ImportPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	return ecdh.P256().NewPublicKey(raw)
}

func (p stdPrimitives) HKDF(salt, ikm, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

func (p stdPrimitives) Seal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func (p stdPrimitives) Salt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(p.rand, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

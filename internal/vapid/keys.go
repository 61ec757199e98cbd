// Package vapid implements Voluntary Application Server Identification (RFC 8292):
// key material handling and ES256 token signing for the Web Push Authorization header.
package vapid

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const scalarSize = 32

// ErrVapidKeyInvalid means key material is present but unusable: it does not
// parse, is not P-256, or the public key does not belong to the private key.
var ErrVapidKeyInvalid = errors.New("vapid key material invalid")

// KeyMaterial is the application server identity. It is immutable once built
// and safe to share between goroutines.
type KeyMaterial struct {
	publicKey []byte
	signer    crypto.Signer
}

// NewKeyMaterial builds KeyMaterial from configuration values. publicKey is the
// base64url uncompressed point handed to browsers; privateKey may be a JWK, a
// PEM block or a base64url raw scalar.
func NewKeyMaterial(publicKey, privateKey string) (*KeyMaterial, error) {
	if strings.TrimSpace(publicKey) == "" || strings.TrimSpace(privateKey) == "" {
		return nil, dispatch.ErrVapidKeyMissing
	}
	pub, err := ImportPublicKeyRaw(publicKey)
	if err != nil {
		return nil, err
	}
	priv, err := ImportPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	derived, err := priv.PublicKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVapidKeyInvalid, err)
	}
	if !bytes.Equal(derived, pub) {
		return nil, fmt.Errorf("%w: public key does not match private key", ErrVapidKeyInvalid)
	}
	return &KeyMaterial{publicKey: pub, signer: priv}, nil
}

// NewKeyMaterialFromSigner wraps an external signer, e.g. a KMS or HSM backed
// key. Such signers return ASN.1 DER signatures.
func NewKeyMaterialFromSigner(signer crypto.Signer) (*KeyMaterial, error) {
	if signer == nil {
		return nil, dispatch.ErrVapidKeyMissing
	}
	pub, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: signer is not a P-256 ECDSA key", ErrVapidKeyInvalid)
	}
	raw, err := pub.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVapidKeyInvalid, err)
	}
	return &KeyMaterial{publicKey: raw, signer: signer}, nil
}

// PublicKey returns the base64url encoded public key used in the k= parameter.
func (k *KeyMaterial) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(k.publicKey)
}

// PublicKeyBytes returns a copy of the raw 65-byte public point.
func (k *KeyMaterial) PublicKeyBytes() []byte {
	return bytes.Clone(k.publicKey)
}

// Signer returns the signing key.
func (k *KeyMaterial) Signer() crypto.Signer {
	return k.signer
}

// ImportPublicKeyRaw decodes a base64url uncompressed P-256 point.
func ImportPublicKeyRaw(s string) ([]byte, error) {
	raw, err := webpush.DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: public key encoding: %v", ErrVapidKeyInvalid, err)
	}
	if _, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), raw); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrVapidKeyInvalid, err)
	}
	return raw, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	D   string `json:"d"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ImportPrivateKey parses a P-256 private key given as a JWK object, a PEM
// block (SEC 1 or PKCS #8) or a base64url raw scalar.
func ImportPrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "{"):
		return importJWK(s)
	case strings.HasPrefix(s, "-----BEGIN"):
		return importPEM(s)
	}
	d, err := webpush.DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: private key encoding: %v", ErrVapidKeyInvalid, err)
	}
	return importScalar(d)
}

func importJWK(s string) (*ecdsa.PrivateKey, error) {
	var key jwk
	if err := json.Unmarshal([]byte(s), &key); err != nil {
		return nil, fmt.Errorf("%w: jwk: %v", ErrVapidKeyInvalid, err)
	}
	if key.Kty != "EC" || key.Crv != "P-256" || key.D == "" {
		return nil, fmt.Errorf("%w: jwk must be an EC P-256 private key", ErrVapidKeyInvalid)
	}
	d, err := webpush.DecodeBase64(key.D)
	if err != nil {
		return nil, fmt.Errorf("%w: jwk d: %v", ErrVapidKeyInvalid, err)
	}
	priv, err := importScalar(d)
	if err != nil {
		return nil, err
	}
	if key.X != "" && key.Y != "" {
		x, errX := webpush.DecodeBase64(key.X)
		y, errY := webpush.DecodeBase64(key.Y)
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("%w: jwk coordinates", ErrVapidKeyInvalid)
		}
		pub, _ := priv.PublicKey.Bytes()
		if !bytes.Equal(leftPad(x, scalarSize), pub[1:1+scalarSize]) || !bytes.Equal(leftPad(y, scalarSize), pub[1+scalarSize:]) {
			return nil, fmt.Errorf("%w: jwk coordinates do not match d", ErrVapidKeyInvalid)
		}
	}
	return priv, nil
}

func importPEM(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrVapidKeyInvalid)
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		key, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, fmt.Errorf("%w: pem: %v", ErrVapidKeyInvalid, err)
		}
		var ok bool
		if priv, ok = key.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: pem key is not ECDSA", ErrVapidKeyInvalid)
		}
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve must be P-256", ErrVapidKeyInvalid)
	}
	return priv, nil
}

// importScalar accepts scalars shorter than 32 bytes; some generators drop
// leading zero bytes.
func importScalar(d []byte) (*ecdsa.PrivateKey, error) {
	if len(d) == 0 || len(d) > scalarSize {
		return nil, fmt.Errorf("%w: private scalar must be at most %d bytes, got %d", ErrVapidKeyInvalid, scalarSize, len(d))
	}
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), leftPad(d, scalarSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVapidKeyInvalid, err)
	}
	return priv, nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// KeySource provides the key material for one batch.
type KeySource interface {
	Load(ctx context.Context) (*KeyMaterial, error)
}

// StaticKeySource parses keys held in configuration.
type StaticKeySource struct {
	PublicKey  string
	PrivateKey string
}

func (s StaticKeySource) Load(_ context.Context) (*KeyMaterial, error) {
	return NewKeyMaterial(s.PublicKey, s.PrivateKey)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (*KeyMaterial, error)

func (f KeySourceFunc) Load(ctx context.Context) (*KeyMaterial, error) { return f(ctx) }

package webpush

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const (
	// PublicKeySize is the length of an uncompressed P-256 point.
	PublicKeySize = 65
	// AuthSecretSize is the length of the subscriber auth secret.
	AuthSecretSize = 16
)

// SubscriptionKeys are the decoded p256dh and auth values of a subscription.
type SubscriptionKeys struct {
	PublicKey  []byte
	AuthSecret []byte
}

// Agreement is the per-message ECDH result. It must never be reused.
type Agreement struct {
	SharedSecret    []byte
	ServerPublicKey []byte
}

// DecodeSubscriptionKeys decodes and validates the keys issued by the browser.
func DecodeSubscriptionKeys(p256dh, auth string) (SubscriptionKeys, error) {
	pub, err := DecodeBase64(p256dh)
	if err != nil {
		return SubscriptionKeys{}, fmt.Errorf("%w: p256dh: %v", dispatch.ErrInvalidSubscriptionKey, err)
	}
	if len(pub) != PublicKeySize || pub[0] != 0x04 {
		return SubscriptionKeys{}, fmt.Errorf("%w: p256dh must be a %d byte uncompressed point", dispatch.ErrInvalidSubscriptionKey, PublicKeySize)
	}
	secret, err := DecodeBase64(auth)
	if err != nil {
		return SubscriptionKeys{}, fmt.Errorf("%w: auth: %v", dispatch.ErrInvalidSubscriptionKey, err)
	}
	if len(secret) != AuthSecretSize {
		return SubscriptionKeys{}, fmt.Errorf("%w: auth must be %d bytes, got %d", dispatch.ErrInvalidSubscriptionKey, AuthSecretSize, len(secret))
	}
	return SubscriptionKeys{PublicKey: pub, AuthSecret: secret}, nil
}

// Agree generates an ephemeral server key pair and derives the shared secret
// with the subscriber's public key.
func Agree(prims Primitives, clientPublicKey []byte) (Agreement, error) {
	clientKey, err := prims.ImportPublicKey(clientPublicKey)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: %v", dispatch.ErrInvalidSubscriptionKey, err)
	}
	serverKey, err := prims.GenerateKey()
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: generate ephemeral key: %v", dispatch.ErrCryptoFailure, err)
	}
	secret, err := serverKey.ECDH(clientKey)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: ecdh: %v", dispatch.ErrCryptoFailure, err)
	}
	return Agreement{
		SharedSecret:    secret,
		ServerPublicKey: serverKey.PublicKey().Bytes(),
	}, nil
}

// DecodeBase64 accepts base64url as browsers emit it, and tolerates padding
// and the standard alphabet since subscriptions are sometimes re-encoded.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

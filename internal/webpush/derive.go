package webpush

import (
	"fmt"
	"slices"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const (
	// SaltSize is the length of the per-message random salt.
	SaltSize = 16
	// KeySize is the AES-128-GCM content encryption key length.
	KeySize = 16
	// NonceSize is the GCM nonce length.
	NonceSize = 12
	ikmSize   = 32
)

var (
	webPushInfo = []byte("WebPush: info\x00")
	cekInfo     = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo   = []byte("Content-Encoding: nonce\x00")
)

// ContentKeys are the values derived for a single record.
type ContentKeys struct {
	CEK   []byte
	Nonce []byte
}

// DeriveKeys runs the RFC 8291 key schedule.
//
//	ikm   = HKDF(auth, ecdh_secret, "WebPush: info\0" || ua_public || as_public, 32)
//	cek   = HKDF(salt, ikm, "Content-Encoding: aes128gcm\0", 16)
//	nonce = HKDF(salt, ikm, "Content-Encoding: nonce\0", 12)
func DeriveKeys(prims Primitives, sharedSecret, authSecret, clientPublicKey, serverPublicKey, salt []byte) (ContentKeys, error) {
	if len(salt) != SaltSize {
		return ContentKeys{}, fmt.Errorf("%w: salt must be %d bytes", dispatch.ErrCryptoFailure, SaltSize)
	}
	info := slices.Concat(webPushInfo, clientPublicKey, serverPublicKey)
	ikm, err := prims.HKDF(authSecret, sharedSecret, info, ikmSize)
	if err != nil {
		return ContentKeys{}, fmt.Errorf("%w: ikm: %v", dispatch.ErrCryptoFailure, err)
	}
	cek, err := prims.HKDF(salt, ikm, cekInfo, KeySize)
	if err != nil {
		return ContentKeys{}, fmt.Errorf("%w: cek: %v", dispatch.ErrCryptoFailure, err)
	}
	nonce, err := prims.HKDF(salt, ikm, nonceInfo, NonceSize)
	if err != nil {
		return ContentKeys{}, fmt.Errorf("%w: nonce: %v", dispatch.ErrCryptoFailure, err)
	}
	return ContentKeys{CEK: cek, Nonce: nonce}, nil
}

package webpush

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const (
	// RecordSize is the rs value advertised in the header. Push services are
	// not required to accept more than 4096.
	RecordSize = 4096

	// HeaderSize is salt(16) + rs(4) + idlen(1) + keyid(65).
	HeaderSize = SaltSize + 4 + 1 + PublicKeySize

	tagSize = 16

	// MaxPayloadSize is the largest plaintext that fits in one record:
	// the delimiter byte and the GCM tag share the record with the header.
	MaxPayloadSize = RecordSize - HeaderSize - 1 - tagSize

	// lastRecordDelimiter marks the final (and only) record. Non-final records
	// would use 0x01; this package never splits a message.
	lastRecordDelimiter = 0x02
)

// ErrPayloadTooLarge is returned when a message does not fit in one record.
var ErrPayloadTooLarge = errors.New("payload exceeds single record size")

// Encryptor produces aes128gcm message bodies. Every call generates its own
// salt and ephemeral key pair.
type Encryptor struct {
	prims Primitives
}

// NewEncryptor returns an Encryptor over the given primitives; nil selects
// the default implementation.
func NewEncryptor(prims Primitives) *Encryptor {
	if prims == nil {
		prims = NewPrimitives(nil)
	}
	return &Encryptor{prims: prims}
}

// Encrypt encrypts payload for the subscriber identified by keys.
func (e *Encryptor) Encrypt(payload []byte, keys SubscriptionKeys) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	agreement, err := Agree(e.prims, keys.PublicKey)
	if err != nil {
		return nil, err
	}
	salt, err := e.prims.Salt()
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", dispatch.ErrCryptoFailure, err)
	}
	ck, err := DeriveKeys(e.prims, agreement.SharedSecret, keys.AuthSecret, keys.PublicKey, agreement.ServerPublicKey, salt)
	if err != nil {
		return nil, err
	}
	return e.seal(payload, ck, salt, agreement.ServerPublicKey)
}

func (e *Encryptor) seal(payload []byte, ck ContentKeys, salt, serverPublicKey []byte) ([]byte, error) {
	plaintext := make([]byte, 0, len(payload)+1)
	plaintext = append(plaintext, payload...)
	plaintext = append(plaintext, lastRecordDelimiter)

	ciphertext, err := e.prims.Seal(ck.CEK, ck.Nonce, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: aead: %v", dispatch.ErrCryptoFailure, err)
	}

	// +-----------+--------+-----------+---------------+
	// | salt (16) | rs (4) | idlen (1) | keyid (idlen) |
	// +-----------+--------+-----------+---------------+
	body := make([]byte, 0, HeaderSize+len(ciphertext))
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, RecordSize)
	body = append(body, byte(len(serverPublicKey)))
	body = append(body, serverPublicKey...)
	body = append(body, ciphertext...)
	return body, nil
}

package vapid

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// ToP1363 converts an ECDSA signature to the fixed width r||s form JWS requires.
// size is the byte length of one scalar (32 for P-256). ASN.1 DER input
// (SEQUENCE { INTEGER r, INTEGER s }) is converted; input that is already
// 2*size bytes and not DER is returned unchanged.
func ToP1363(sig []byte, size int) ([]byte, error) {
	if r, s, ok := parseDER(sig); ok {
		out := make([]byte, 2*size)
		errR := putScalar(out[:size], r)
		errS := putScalar(out[size:], s)
		if errR == nil && errS == nil {
			return out, nil
		}
		if len(sig) != 2*size {
			return nil, fmt.Errorf("%w: der signature: %v", dispatch.ErrCryptoFailure, errors.Join(errR, errS))
		}
	}
	if len(sig) == 2*size {
		return bytes.Clone(sig), nil
	}
	return nil, fmt.Errorf("%w: unrecognised signature encoding (%d bytes)", dispatch.ErrCryptoFailure, len(sig))
}

func parseDER(sig []byte) (r, s []byte, ok bool) {
	input := cryptobyte.String(sig)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() {
		return nil, nil, false
	}
	var rb, sb cryptobyte.String
	if !inner.ReadASN1(&rb, asn1.INTEGER) || !inner.ReadASN1(&sb, asn1.INTEGER) || !inner.Empty() {
		return nil, nil, false
	}
	return rb, sb, true
}

// putScalar writes a DER INTEGER body into dst, big-endian and left padded.
func putScalar(dst, v []byte) error {
	if len(v) == 0 {
		return errors.New("empty integer")
	}
	if v[0]&0x80 != 0 {
		return errors.New("negative integer")
	}
	// A leading zero is only present to keep the high bit clear.
	for len(v) > len(dst) && v[0] == 0x00 {
		v = v[1:]
	}
	if len(v) > len(dst) {
		return fmt.Errorf("integer of %d bytes exceeds %d", len(v), len(dst))
	}
	copy(dst[len(dst)-len(v):], v)
	return nil
}

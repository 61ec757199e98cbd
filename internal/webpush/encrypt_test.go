package webpush_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// receiver plays the user agent: it holds the subscription private key and
// auth secret and decrypts aes128gcm bodies.
type receiver struct {
	priv *ecdh.PrivateKey
	auth []byte
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &receiver{priv: priv, auth: auth}
}

func (r *receiver) p256dh() string {
	return base64.RawURLEncoding.EncodeToString(r.priv.PublicKey().Bytes())
}

func (r *receiver) authB64() string {
	return base64.RawURLEncoding.EncodeToString(r.auth)
}

func (r *receiver) keys(t *testing.T) webpush.SubscriptionKeys {
	t.Helper()
	keys, err := webpush.DecodeSubscriptionKeys(r.p256dh(), r.authB64())
	require.NoError(t, err)
	return keys
}

func expand(t *testing.T, secret, salt, info []byte, n int) []byte {
	t.Helper()
	out := make([]byte, n)
	_, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out)
	require.NoError(t, err)
	return out
}

func (r *receiver) decrypt(t *testing.T, body []byte) []byte {
	t.Helper()
	require.Greater(t, len(body), 21)
	salt := body[:16]
	rs := binary.BigEndian.Uint32(body[16:20])
	require.Equal(t, uint32(4096), rs)
	idlen := int(body[20])
	require.Equal(t, 65, idlen)
	serverPub := body[21 : 21+idlen]
	ciphertext := body[21+idlen:]

	asKey, err := ecdh.P256().NewPublicKey(serverPub)
	require.NoError(t, err)
	secret, err := r.priv.ECDH(asKey)
	require.NoError(t, err)

	info := append([]byte("WebPush: info\x00"), r.priv.PublicKey().Bytes()...)
	info = append(info, serverPub...)
	ikm := expand(t, secret, r.auth, info, 32)
	cek := expand(t, ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	nonce := expand(t, ikm, salt, []byte("Content-Encoding: nonce\x00"), 12)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)

	require.NotEmpty(t, plaintext)
	require.Equal(t, byte(0x02), plaintext[len(plaintext)-1], "last record delimiter")
	return plaintext[:len(plaintext)-1]
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	_, err := rand.Read(p)
	require.NoError(t, err)
	return p
}

func TestEncrypt_RoundTrip(t *testing.T) {
	enc := webpush.NewEncryptor(nil)

	for _, size := range []int{10, 100, 1000, 3000} {
		t.Run("payload size "+strconv.Itoa(size), func(t *testing.T) {
			rcv := newReceiver(t)
			payload := randomPayload(t, size)

			body, err := enc.Encrypt(payload, rcv.keys(t))
			require.NoError(t, err)

			// header + payload + delimiter + tag
			assert.Len(t, body, webpush.HeaderSize+size+1+16)
			assert.Equal(t, payload, rcv.decrypt(t, body))
		})
	}
}

func TestEncrypt_MaxPayloadFitsRecord(t *testing.T) {
	rcv := newReceiver(t)
	enc := webpush.NewEncryptor(nil)

	body, err := enc.Encrypt(randomPayload(t, webpush.MaxPayloadSize), rcv.keys(t))
	require.NoError(t, err)
	assert.Len(t, body, webpush.RecordSize)

	_, err = enc.Encrypt(randomPayload(t, webpush.MaxPayloadSize+1), rcv.keys(t))
	assert.ErrorIs(t, err, webpush.ErrPayloadTooLarge)
}

func TestEncrypt_Freshness(t *testing.T) {
	rcv := newReceiver(t)
	enc := webpush.NewEncryptor(nil)
	payload := []byte(`{"notification":{"title":"Weekly summary"}}`)

	first, err := enc.Encrypt(payload, rcv.keys(t))
	require.NoError(t, err)
	second, err := enc.Encrypt(payload, rcv.keys(t))
	require.NoError(t, err)

	assert.NotEqual(t, first[:16], second[:16], "salt reused")
	assert.NotEqual(t, first[21:86], second[21:86], "ephemeral server key reused")
	assert.NotEqual(t, first[86:], second[86:], "ciphertext repeated")

	assert.Equal(t, payload, rcv.decrypt(t, first))
	assert.Equal(t, payload, rcv.decrypt(t, second))
}

type failingSeal struct {
	webpush.Primitives
}

func (failingSeal) Seal(_, _, _ []byte) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestEncrypt_AEADFailureIsCryptoFailure(t *testing.T) {
	rcv := newReceiver(t)
	enc := webpush.NewEncryptor(failingSeal{Primitives: webpush.NewPrimitives(nil)})

	_, err := enc.Encrypt([]byte("hi"), rcv.keys(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrCryptoFailure)
}

func TestEncrypt_EmptyRandomSource(t *testing.T) {
	rcv := newReceiver(t)
	enc := webpush.NewEncryptor(webpush.NewPrimitives(bytes.NewReader(nil)))

	_, err := enc.Encrypt([]byte("hi"), rcv.keys(t))
	assert.ErrorIs(t, err, dispatch.ErrCryptoFailure)
}

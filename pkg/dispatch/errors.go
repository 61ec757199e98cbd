package dispatch

import "errors"

// Per-recipient failures. These are folded into a DeliveryResult and never
// abort a batch.
var (
	// ErrInvalidSubscriptionKey means the subscriber's p256dh or auth value
	// could not be decoded into a P-256 point / 16-byte secret.
	ErrInvalidSubscriptionKey = errors.New("invalid subscription key")

	// ErrCryptoFailure covers key derivation, AEAD and signature encoding errors.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrHTTPDelivery is a transport error or an unexpected push service status.
	// The subscription is kept and may be retried by a later batch.
	ErrHTTPDelivery = errors.New("http delivery failure")

	// ErrSubscriptionExpired is returned for 404/410 responses. The subscription
	// must be deleted.
	ErrSubscriptionExpired = errors.New("subscription expired")
)

// Batch level preconditions. These are returned to the caller before any
// recipient is processed.
var (
	ErrVapidKeyMissing = errors.New("vapid key material missing")
	ErrNoRecipients    = errors.New("no recipients")
	ErrInvalidRequest  = errors.New("invalid broadcast request")
)

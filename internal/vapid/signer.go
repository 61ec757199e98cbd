package vapid

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// MaxExpiry is the longest token lifetime push services accept.
const MaxExpiry = 12 * time.Hour

// ErrVapidSubjectInvalid means the operator contact is not a mailto: or https: URI.
var ErrVapidSubjectInvalid = errors.New("vapid subject invalid")

// signingMethodSigner is ES256 over any crypto.Signer. crypto.Signer
// implementations produce ASN.1 DER, which is converted to the JWS encoding.
type signingMethodSigner struct{}

var es256Signer jwt.SigningMethod = signingMethodSigner{}

func (signingMethodSigner) Alg() string { return "ES256" }

func (signingMethodSigner) Sign(signingString string, key interface{}) ([]byte, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	digest := sha256.Sum256([]byte(signingString))
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", dispatch.ErrCryptoFailure, err)
	}
	return ToP1363(sig, scalarSize)
}

func (signingMethodSigner) Verify(signingString string, sig []byte, key interface{}) error {
	return jwt.SigningMethodES256.Verify(signingString, sig, key)
}

// Signer issues VAPID tokens for one set of key material.
type Signer struct {
	keys    *KeyMaterial
	subject string
	expiry  time.Duration
	now     func() time.Time
}

// SignerOption customises a Signer.
type SignerOption func(*Signer)

// WithExpiry shortens the token lifetime. Values outside (0, MaxExpiry] are ignored.
func WithExpiry(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 && d <= MaxExpiry {
			s.expiry = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner returns a Signer. subject is the operator contact; a bare email
// address is turned into a mailto: URI.
func NewSigner(keys *KeyMaterial, subject string, opts ...SignerOption) (*Signer, error) {
	if keys == nil {
		return nil, dispatch.ErrVapidKeyMissing
	}
	sub, err := NormalizeSubject(subject)
	if err != nil {
		return nil, err
	}
	s := &Signer{keys: keys, subject: sub, expiry: MaxExpiry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NormalizeSubject returns the sub claim for an operator contact. A bare
// email address becomes a mailto: URI.
func NormalizeSubject(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	switch {
	case strings.HasPrefix(subject, "mailto:"):
		if addr := strings.TrimPrefix(subject, "mailto:"); strings.Contains(addr, "@") {
			return subject, nil
		}
	case strings.HasPrefix(subject, "https:"):
		if u, err := url.Parse(subject); err == nil && u.Host != "" {
			return subject, nil
		}
	case strings.Contains(subject, "@") && !strings.ContainsAny(subject, " :/"):
		return "mailto:" + subject, nil
	}
	return "", fmt.Errorf("%w: must be a mailto: or https: URI, got %q", ErrVapidSubjectInvalid, subject)
}

// Token returns a signed compact JWT for the given audience.
func (s *Signer) Token(audience string) (string, error) {
	if audience == "" {
		return "", errors.New("vapid audience is empty")
	}
	token := jwt.NewWithClaims(es256Signer, jwt.MapClaims{
		"aud": audience,
		"exp": s.now().Add(s.expiry).Unix(),
		"sub": s.subject,
	})
	signed, err := token.SignedString(s.keys.Signer())
	if err != nil {
		if errors.Is(err, dispatch.ErrCryptoFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", dispatch.ErrCryptoFailure, err)
	}
	return signed, nil
}

// AuthorizationHeader returns the "vapid t=..., k=..." value for a request to endpoint.
func (s *Signer) AuthorizationHeader(endpoint string) (string, error) {
	aud, err := Audience(endpoint)
	if err != nil {
		return "", err
	}
	token, err := s.Token(aud)
	if err != nil {
		return "", err
	}
	return "vapid t=" + token + ", k=" + s.keys.PublicKey(), nil
}

// Audience is the origin (scheme://host) of a push endpoint.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint: %q", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

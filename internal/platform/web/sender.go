// Package web delivers encrypted Web Push messages to push services (RFC 8030).
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-delivery/internal/platform/ratelimit"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// Urgency is the RFC 8030 message priority.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

// Valid reports whether u is one of the RFC 8030 values.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

const (
	DefaultTTL     = 86400
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tune the request headers and limits.
type Options struct {
	TTL     int
	Urgency Urgency
	// Timeout bounds a single send, including time spent waiting on Limiter.
	Timeout time.Duration
	Limiter *ratelimit.OriginLimiter
}

// Outcome is the classified result of one POST.
type Outcome struct {
	StatusCode int
	Success    bool
	Invalidate bool
	Err        error
}

// Sender posts encrypted bodies to push service endpoints. It never retries.
type Sender struct {
	client  HTTPClient
	ttl     string
	urgency Urgency
	timeout time.Duration
	limiter *ratelimit.OriginLimiter
	logger  *slog.Logger
}

// NewSender applies defaults for zero options: TTL 86400, urgency high, 10s timeout.
func NewSender(client HTTPClient, opts Options, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if !opts.Urgency.Valid() {
		opts.Urgency = UrgencyHigh
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Sender{
		client:  client,
		ttl:     strconv.Itoa(opts.TTL),
		urgency: opts.Urgency,
		timeout: opts.Timeout,
		limiter: opts.Limiter,
		logger:  logger.With("component", "WebPushSender"),
	}
}

// Send delivers one message. authorization is the full "vapid t=..., k=..." value.
func (s *Sender) Send(ctx context.Context, endpoint string, body []byte, authorization string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx, origin(endpoint)); err != nil {
		return Outcome{Err: fmt.Errorf("%w: rate limit wait: %v", dispatch.ErrHTTPDelivery, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: build request: %v", dispatch.ErrHTTPDelivery, err)}
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("TTL", s.ttl)
	req.Header.Set("Urgency", string(s.urgency))
	req.Header.Set("Authorization", authorization)

	resp, err := s.client.Do(req)
	if err != nil {
		// Transport error (DNS, timeout). Keep the subscription.
		return Outcome{Err: fmt.Errorf("%w: %v", dispatch.ErrHTTPDelivery, err)}
	}
	defer resp.Body.Close()

	out := Classify(resp.StatusCode)
	if !out.Success {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			out.Err = fmt.Errorf("%w: %s", out.Err, msg)
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return out
}

// Classify maps a push service status code to an outcome.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Outcome{StatusCode: status, Success: true}
	case status == http.StatusNotFound || status == http.StatusGone:
		return Outcome{
			StatusCode: status,
			Invalidate: true,
			Err:        fmt.Errorf("%w: status %d", dispatch.ErrSubscriptionExpired, status),
		}
	default:
		return Outcome{
			StatusCode: status,
			Err:        fmt.Errorf("%w: status %d", dispatch.ErrHTTPDelivery, status),
		}
	}
}

func origin(endpoint string) string {
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return ""
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}

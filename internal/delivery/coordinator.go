// Package delivery turns a resolved batch of subscriptions into encrypted,
// signed Web Push requests and aggregates their outcomes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-delivery/internal/platform/web"
	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// PushSender posts one encrypted body. *web.Sender satisfies it.
type PushSender interface {
	Send(ctx context.Context, endpoint string, body []byte, authorization string) web.Outcome
}

// Batch is one payload addressed to a resolved list of subscriptions.
type Batch struct {
	// ID is generated when empty.
	ID         string
	Payload    []byte
	Recipients []dispatch.Subscription
}

// Config holds the coordinator settings.
type Config struct {
	// Workers bounds concurrent deliveries. 1 sends strictly in order.
	Workers int
	// Subject is the VAPID operator contact (mailto: or https:).
	Subject     string
	TokenExpiry time.Duration
}

// Coordinator runs delivery batches.
type Coordinator struct {
	cfg       Config
	keys      vapid.KeySource
	encryptor *webpush.Encryptor
	sender    PushSender
	observer  dispatch.Observer
	now       func() time.Time
	logger    *slog.Logger
}

// NewCoordinator wires a coordinator. A nil encryptor uses the default
// primitives and a nil observer discards observations.
func NewCoordinator(
	cfg Config,
	keys vapid.KeySource,
	encryptor *webpush.Encryptor,
	sender PushSender,
	observer dispatch.Observer,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if encryptor == nil {
		encryptor = webpush.NewEncryptor(nil)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Coordinator{
		cfg:       cfg,
		keys:      keys,
		encryptor: encryptor,
		sender:    sender,
		observer:  observer,
		now:       time.Now,
		logger:    logger.With("component", "DeliveryCoordinator"),
	}
}

// Run delivers the batch. It returns an error only for conditions that affect
// every recipient: missing or invalid VAPID keys, no recipients, or a payload
// that cannot be encrypted into a single record. Nothing is sent in those cases.
func (c *Coordinator) Run(ctx context.Context, batch Batch) (*dispatch.BatchSummary, error) {
	summary, err := c.run(ctx, batch)
	c.observer.ObserveBatch(summary, err)
	return summary, err
}

func (c *Coordinator) run(ctx context.Context, batch Batch) (*dispatch.BatchSummary, error) {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	log := c.logger.With("batch_id", batch.ID)

	signer, err := c.loadSigner(ctx)
	if err != nil {
		log.Error("Cannot sign batch", "err", err)
		return nil, err
	}
	if len(batch.Recipients) == 0 {
		return nil, dispatch.ErrNoRecipients
	}
	if len(batch.Payload) > webpush.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", webpush.ErrPayloadTooLarge, len(batch.Payload), webpush.MaxPayloadSize)
	}

	results := make([]dispatch.DeliveryResult, len(batch.Recipients))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, sub := range batch.Recipients {
		g.Go(func() error {
			start := c.now()
			results[i] = c.deliver(ctx, signer, batch.Payload, sub)
			c.observer.ObserveDelivery(results[i], c.now().Sub(start))
			return nil
		})
	}
	_ = g.Wait()

	summary := &dispatch.BatchSummary{
		BatchID: batch.ID,
		Total:   len(batch.Recipients),
		Results: make([]dispatch.DeliveryResult, 0, len(results)),
	}
	for i, r := range results {
		summary.Add(r, batch.Recipients[i])
		if r.Err != nil {
			log.Warn("Delivery failed",
				"recipient_id", r.RecipientID,
				"endpoint", r.Endpoint,
				"status", r.StatusCode,
				"invalidate", r.Invalidate,
				"err", r.Err,
			)
		}
	}

	log.Info("Batch delivered",
		"total", summary.Total,
		"sent", summary.SuccessCount,
		"failed", summary.FailureCount,
		"invalidated", len(summary.Invalidated),
	)
	return summary, nil
}

func (c *Coordinator) loadSigner(ctx context.Context) (*vapid.Signer, error) {
	if c.keys == nil {
		return nil, dispatch.ErrVapidKeyMissing
	}
	keys, err := c.keys.Load(ctx)
	if err != nil {
		return nil, err
	}
	var opts []vapid.SignerOption
	if c.cfg.TokenExpiry > 0 {
		opts = append(opts, vapid.WithExpiry(c.cfg.TokenExpiry))
	}
	return vapid.NewSigner(keys, c.cfg.Subject, opts...)
}

// deliver never panics or aborts on a per-recipient problem; every failure
// ends up in the returned result.
func (c *Coordinator) deliver(ctx context.Context, signer *vapid.Signer, payload []byte, sub dispatch.Subscription) dispatch.DeliveryResult {
	result := dispatch.DeliveryResult{RecipientID: sub.OwnerID, Endpoint: sub.Endpoint}

	keys, err := webpush.DecodeSubscriptionKeys(sub.P256dh, sub.Auth)
	if err != nil {
		result.Err = err
		return result
	}

	body, err := c.encryptor.Encrypt(payload, keys)
	if err != nil {
		result.Err = err
		return result
	}

	authorization, err := signer.AuthorizationHeader(sub.Endpoint)
	if err != nil {
		if !errors.Is(err, dispatch.ErrCryptoFailure) {
			err = fmt.Errorf("%w: %v", dispatch.ErrHTTPDelivery, err)
		}
		result.Err = err
		return result
	}

	out := c.sender.Send(ctx, sub.Endpoint, body, authorization)
	result.Success = out.Success
	result.StatusCode = out.StatusCode
	result.Invalidate = out.Invalidate
	result.Err = out.Err
	return result
}

type nopObserver struct{}

func (nopObserver) ObserveDelivery(dispatch.DeliveryResult, time.Duration) {}
func (nopObserver) ObserveBatch(*dispatch.BatchSummary, error)             {}

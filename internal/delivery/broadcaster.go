package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// BatchRunner executes a resolved batch. *Coordinator satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, batch Batch) (*dispatch.BatchSummary, error)
}

// Broadcaster handles a broadcast request end to end: it resolves the
// audience, delivers, prunes dead subscriptions and records the batch.
type Broadcaster struct {
	store  dispatch.SubscriptionStore
	runner BatchRunner
	sink   dispatch.LogSink
	now    func() time.Time
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster. sink may be nil.
func NewBroadcaster(store dispatch.SubscriptionStore, runner BatchRunner, sink dispatch.LogSink, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		store:  store,
		runner: runner,
		sink:   sink,
		now:    time.Now,
		logger: logger.With("component", "Broadcaster"),
	}
}

type notificationPayload struct {
	Notification notificationBody `json:"notification"`
}

type notificationBody struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Icon  string           `json:"icon,omitempty"`
	Data  notificationData `json:"data"`
}

type notificationData struct {
	URL string `json:"url,omitempty"`
}

// RenderPayload builds the JSON document a service worker receives.
func RenderPayload(req dispatch.BroadcastRequest) ([]byte, error) {
	return json.Marshal(notificationPayload{
		Notification: notificationBody{
			Title: req.Title,
			Body:  req.Body,
			Icon:  req.Icon,
			Data:  notificationData{URL: req.URL},
		},
	})
}

// Broadcast validates and delivers req on behalf of caller.
func (b *Broadcaster) Broadcast(ctx context.Context, caller dispatch.Caller, req dispatch.BroadcastRequest) (*dispatch.BatchSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidRequest, err)
	}

	batchID := uuid.NewString()
	log := b.logger.With("batch_id", batchID, "sent_by", caller.SentBy(), "target", req.TargetType)

	payload, err := RenderPayload(req)
	if err != nil {
		return nil, fmt.Errorf("render payload: %w", err)
	}

	recipients, err := b.store.Resolve(ctx, req.Target())
	if err != nil {
		log.Error("Failed to resolve recipients", "err", err)
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	log.Debug("Recipients resolved", "count", len(recipients))

	summary, err := b.runner.Run(ctx, Batch{ID: batchID, Payload: payload, Recipients: recipients})
	if err != nil {
		return nil, err
	}

	b.prune(ctx, log, summary.Invalidated)
	b.record(ctx, log, caller, req, summary)
	return summary, nil
}

// prune removes subscriptions the push service reported as gone. Failures are
// logged; the next batch will report them again.
func (b *Broadcaster) prune(ctx context.Context, log *slog.Logger, subs []dispatch.Subscription) {
	if len(subs) == 0 {
		return
	}
	log.Info("Cleaning up expired web subscriptions", "count", len(subs))
	for _, sub := range subs {
		owner, err := urn.Parse(sub.OwnerID)
		if err != nil {
			log.Warn("Cannot prune subscription with malformed owner", "owner", sub.OwnerID, "err", err)
			continue
		}
		if err := b.store.UnregisterWeb(ctx, owner, sub.Endpoint); err != nil {
			log.Warn("Failed to delete web subscription", "endpoint", sub.Endpoint, "err", err)
		}
	}
}

func (b *Broadcaster) record(ctx context.Context, log *slog.Logger, caller dispatch.Caller, req dispatch.BroadcastRequest, summary *dispatch.BatchSummary) {
	if b.sink == nil {
		return
	}
	rec := dispatch.LogRecord{
		BatchID:         summary.BatchID,
		Title:           req.Title,
		Body:            req.Body,
		TargetType:      req.TargetType,
		TotalRecipients: summary.Total,
		SuccessCount:    summary.SuccessCount,
		FailureCount:    summary.FailureCount,
		SentBy:          caller.SentBy(),
		Timestamp:       b.now().UTC(),
	}
	if err := b.sink.Record(ctx, rec); err != nil {
		log.Warn("Failed to write delivery log", "err", err)
	}
}

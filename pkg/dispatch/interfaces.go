package dispatch

import (
	"context"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// RecipientResolver turns a broadcast target into the subscriptions to deliver to.
// Deciding who is targeted lives behind this interface, not in the delivery engine.
type RecipientResolver interface {
	Resolve(ctx context.Context, target Target) ([]Subscription, error)
}

// SubscriptionStore manages the web push subscriptions registered by users.
type SubscriptionStore interface {
	RecipientResolver

	// RegisterWeb upserts a subscription, keyed by its endpoint.
	RegisterWeb(ctx context.Context, user urn.URN, sub Subscription) error

	// UnregisterWeb removes the subscription with the given endpoint.
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error

	// Fetch returns every subscription registered for a user.
	Fetch(ctx context.Context, user urn.URN) ([]Subscription, error)
}

// LogSink persists one record per delivered batch.
type LogSink interface {
	Record(ctx context.Context, rec LogRecord) error
}

// Observer is notified of per-recipient and per-batch outcomes.
type Observer interface {
	ObserveDelivery(result DeliveryResult, elapsed time.Duration)
	ObserveBatch(summary *BatchSummary, err error)
}

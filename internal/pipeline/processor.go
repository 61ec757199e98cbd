package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// Broadcaster is satisfied by *delivery.Broadcaster.
type Broadcaster interface {
	Broadcast(ctx context.Context, caller dispatch.Caller, req dispatch.BroadcastRequest) (*dispatch.BatchSummary, error)
}

// NewProcessor delivers each scheduled broadcast as the system scheduler.
//
// Returning an error nacks the message. Conditions that a redelivery cannot
// fix (no recipients, oversized payload) are acked.
func NewProcessor(
	broadcaster Broadcaster,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.BroadcastRequest] {
	logger = logger.With("component", "BroadcastProcessor")

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.BroadcastRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"target", request.TargetType,
		)

		summary, err := broadcaster.Broadcast(ctx, dispatch.SystemScheduler{}, *request)
		switch {
		case errors.Is(err, dispatch.ErrNoRecipients):
			procLogger.Info("No subscriptions for target; dropping broadcast.")
			return nil
		case errors.Is(err, webpush.ErrPayloadTooLarge), errors.Is(err, dispatch.ErrInvalidRequest):
			procLogger.Warn("Broadcast cannot be delivered; dropping", "err", err)
			return nil
		case err != nil:
			procLogger.Error("Broadcast failed", "err", err)
			return err // Retryable
		}

		procLogger.Info("Scheduled broadcast dispatched",
			"batch_id", summary.BatchID,
			"sent", summary.SuccessCount,
			"failed", summary.FailureCount,
		)
		return nil
	}
}

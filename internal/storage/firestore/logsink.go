package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const logsCollection = "notification_logs"

// LogSink writes one document per delivered batch to notification_logs/{batchID}.
type LogSink struct {
	client *firestore.Client
}

func NewLogSink(client *firestore.Client) *LogSink {
	return &LogSink{client: client}
}

func (l *LogSink) Record(ctx context.Context, rec dispatch.LogRecord) error {
	if _, err := l.client.Collection(logsCollection).Doc(rec.BatchID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to write delivery log %s: %w", rec.BatchID, err)
	}
	return nil
}

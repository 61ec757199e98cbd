// Package pipeline ingests scheduled broadcasts from Pub/Sub.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// BroadcastRequestTransformer decodes and validates a message payload into a
// dispatch.BroadcastRequest. Malformed or invalid messages are skipped so the
// StreamingService can route them to the dead letter topic.
func BroadcastRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.BroadcastRequest, bool, error) {
	var req dispatch.BroadcastRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal broadcast request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid broadcast request in message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}

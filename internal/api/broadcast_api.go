package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// Broadcaster is satisfied by *delivery.Broadcaster.
type Broadcaster interface {
	Broadcast(ctx context.Context, caller dispatch.Caller, req dispatch.BroadcastRequest) (*dispatch.BatchSummary, error)
}

// AuthorizeFunc decides whether an authenticated user may broadcast. A
// non-nil error rejects the request with 403.
type AuthorizeFunc func(ctx context.Context, caller dispatch.AdminUser) error

// BroadcastAPI lets an authenticated operator send a broadcast.
type BroadcastAPI struct {
	Broadcaster Broadcaster
	// Authorize is optional; when nil every authenticated user may broadcast.
	Authorize AuthorizeFunc
	Logger    *slog.Logger
}

func NewBroadcastAPI(b Broadcaster, logger *slog.Logger) *BroadcastAPI {
	return &BroadcastAPI{
		Broadcaster: b,
		Logger:      logger.With("component", "BroadcastAPI"),
	}
}

// BroadcastResponse is returned on success.
type BroadcastResponse struct {
	BatchID string `json:"batch_id"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
}

func (api *BroadcastAPI) Broadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	caller := dispatch.AdminUser{ID: adminID}
	if api.Authorize != nil {
		if err := api.Authorize(ctx, caller); err != nil {
			api.Logger.Warn("Broadcast forbidden", "admin", adminID, "err", err)
			response.WriteJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	var req dispatch.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	summary, err := api.Broadcaster.Broadcast(ctx, caller, req)
	if err != nil {
		status, msg := broadcastErrorStatus(err)
		if status >= http.StatusInternalServerError {
			api.Logger.Error("Broadcast failed", "admin", adminID, "err", err)
		} else {
			api.Logger.Warn("Broadcast rejected", "admin", adminID, "err", err)
		}
		response.WriteJSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, BroadcastResponse{
		BatchID: summary.BatchID,
		Sent:    summary.SuccessCount,
		Failed:  summary.FailureCount,
		Total:   summary.Total,
	})
}

func broadcastErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, webpush.ErrPayloadTooLarge):
		return http.StatusBadRequest, "notification is too large"
	case errors.Is(err, dispatch.ErrNoRecipients):
		return http.StatusUnprocessableEntity, "no recipients for target"
	case errors.Is(err, dispatch.ErrVapidKeyMissing),
		errors.Is(err, vapid.ErrVapidKeyInvalid),
		errors.Is(err, vapid.ErrVapidSubjectInvalid):
		return http.StatusServiceUnavailable, "push delivery is not configured"
	default:
		return http.StatusInternalServerError, "broadcast failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AdminAllowlist admits only the listed user URNs.
func AdminAllowlist(admins []string) AuthorizeFunc {
	allowed := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		allowed[id] = struct{}{}
	}
	return func(_ context.Context, caller dispatch.AdminUser) error {
		if _, ok := allowed[caller.ID]; !ok {
			return fmt.Errorf("%s is not a broadcast admin", caller.ID)
		}
		return nil
	}
}

// Package api exposes the HTTP handlers of the push delivery service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/internal/webpush"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// SubscriptionAPI lets an authenticated user manage their browser subscriptions.
type SubscriptionAPI struct {
	Store  dispatch.SubscriptionStore
	Logger *slog.Logger
}

func NewSubscriptionAPI(store dispatch.SubscriptionStore, logger *slog.Logger) *SubscriptionAPI {
	return &SubscriptionAPI{
		Store:  store,
		Logger: logger.With("component", "SubscriptionAPI"),
	}
}

// RegisterWeb accepts the browser's PushSubscription.toJSON() document.
func (api *SubscriptionAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := userFromContext(w, r)
	if !ok {
		return
	}

	var browserSub dispatch.BrowserSubscription
	if err := json.NewDecoder(r.Body).Decode(&browserSub); err != nil {
		api.Logger.Warn("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	if browserSub.Endpoint == "" || browserSub.Keys.P256dh == "" || browserSub.Keys.Auth == "" {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}
	if _, err := webpush.DecodeSubscriptionKeys(browserSub.Keys.P256dh, browserSub.Keys.Auth); err != nil {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", "bad keys", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription keys")
		return
	}

	sub := browserSub.ToSubscription(userURN.String())
	if err := api.Store.RegisterWeb(ctx, userURN, sub); err != nil {
		api.Logger.Error("failed to register web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: Subscription registered", "user", userURN, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *SubscriptionAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := userFromContext(w, r)
	if !ok {
		return
	}

	var req UnregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Warn("UnregisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, userURN, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: Subscription unregistered", "user", userURN, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// userFromContext reads the identity set by the JWKS middleware and writes
// a 401 when it is absent or not a URN.
func userFromContext(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return urn.URN{}, false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user identity")
		return urn.URN{}, false
	}
	return userURN, true
}

// Package pushservice assembles the Web Push delivery service: the HTTP API,
// the scheduled broadcast pipeline and the delivery engine behind both.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-delivery/internal/api"
	"github.com/tinywideclouds/go-push-delivery/internal/delivery"
	"github.com/tinywideclouds/go-push-delivery/internal/metrics"
	"github.com/tinywideclouds/go-push-delivery/internal/pipeline"
	"github.com/tinywideclouds/go-push-delivery/internal/platform/ratelimit"
	"github.com/tinywideclouds/go-push-delivery/internal/platform/web"
	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
	"github.com/tinywideclouds/go-push-delivery/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.BroadcastRequest]
	broadcaster     *delivery.Broadcaster
	logger          *slog.Logger
}

// Dependencies are the externally built collaborators of the service.
type Dependencies struct {
	Consumer messagepipeline.MessageConsumer
	Store    dispatch.SubscriptionStore
	// LogSink may be nil.
	LogSink dispatch.LogSink
	// HTTPClient posts to push services; nil uses a default client.
	HTTPClient web.HTTPClient
	// Keys defaults to the VAPID pair from the config.
	Keys           vapid.KeySource
	AuthMiddleware func(http.Handler) http.Handler
	// AuthorizeBroadcast gates the broadcast endpoint after authentication.
	// When nil, cfg.BroadcastAdmins is used as an allowlist if set.
	AuthorizeBroadcast api.AuthorizeFunc
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Store == nil || deps.AuthMiddleware == nil {
		return nil, fmt.Errorf("subscription store and auth middleware are required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Delivery engine
	recorder := metrics.NewRecorder()
	sender := web.NewSender(deps.HTTPClient, web.Options{
		TTL:     cfg.Delivery.TTLSeconds,
		Urgency: web.Urgency(cfg.Delivery.Urgency),
		Timeout: cfg.Delivery.SendTimeout,
		Limiter: ratelimit.New(cfg.Delivery.OriginRateLimit, cfg.Delivery.OriginBurst),
	}, logger)

	keys := deps.Keys
	if keys == nil {
		keys = vapid.StaticKeySource{PublicKey: cfg.Vapid.PublicKey, PrivateKey: cfg.Vapid.PrivateKey}
	}
	coordinator := delivery.NewCoordinator(
		delivery.Config{Workers: cfg.Delivery.Workers, Subject: cfg.Vapid.SubscriberEmail},
		keys, nil, sender, recorder, logger,
	)
	broadcaster := delivery.NewBroadcaster(deps.Store, coordinator, deps.LogSink, logger)

	// 3. Pipeline (scheduled broadcasts)
	processor := pipeline.NewProcessor(broadcaster, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		deps.Consumer,
		pipeline.BroadcastRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	subscriptionAPI := api.NewSubscriptionAPI(deps.Store, logger)
	broadcastAPI := api.NewBroadcastAPI(broadcaster, logger)
	broadcastAPI.Authorize = deps.AuthorizeBroadcast
	if broadcastAPI.Authorize == nil && len(cfg.BroadcastAdmins) > 0 {
		broadcastAPI.Authorize = api.AdminAllowlist(cfg.BroadcastAdmins)
	}
	if broadcastAPI.Authorize == nil {
		logger.Warn("Broadcast endpoint is open to every authenticated user; set broadcast_admins to restrict it.")
	}

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/register/web", subscriptionAPI.RegisterWeb)
	handle("POST /api/v1/unregister/web", subscriptionAPI.UnregisterWeb)
	handle("POST /api/v1/broadcast", broadcastAPI.Broadcast)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", recorder.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		broadcaster:     broadcaster,
		logger:          logger,
	}, nil
}

// Broadcaster exposes the delivery entry point shared by the API and the pipeline.
func (w *Wrapper) Broadcaster() *delivery.Broadcaster {
	return w.broadcaster
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

//go:build integration

package pushservice_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/types/known/durationpb"

	fsStore "github.com/tinywideclouds/go-push-delivery/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
	"github.com/tinywideclouds/go-push-delivery/pushservice"
	"github.com/tinywideclouds/go-push-delivery/pushservice/config"
)

func newSubscription(t *testing.T, endpoint string) dispatch.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, _ = rand.Read(auth)
	return dispatch.Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestPushService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	store := fsStore.NewSubscriptionStore(fsClient)

	// 2. Fake push service: one live endpoint, one expired.
	var delivered, expired atomic.Int64
	pushServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "vapid t=") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/expired") {
			expired.Add(1)
			w.WriteHeader(http.StatusGone)
			return
		}
		delivered.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(pushServer.Close)

	vapidPriv, vapidPub, err := webpushgo.GenerateVAPIDKeys()
	require.NoError(t, err)

	t.Run("Scheduled broadcast: Publish -> Resolve -> Deliver -> Prune -> Log", func(t *testing.T) {
		topicID := "broadcasts-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		cfg := &config.Config{
			ListenAddr:         ":0",
			NumPipelineWorkers: 2,
			Vapid: config.VapidConfig{
				PublicKey:       vapidPub,
				PrivateKey:      vapidPriv,
				SubscriberEmail: "ops@example.com",
			},
			Delivery: config.DeliveryConfig{Workers: 4, SendTimeout: 5 * time.Second, TTLSeconds: 60, Urgency: "high"},
		}

		svc, err := pushservice.New(cfg, pushservice.Dependencies{
			Consumer:       consumer,
			Store:          store,
			LogSink:        fsStore.NewLogSink(fsClient),
			HTTPClient:     pushServer.Client(),
			AuthMiddleware: func(h http.Handler) http.Handler { return h },
		}, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: register two subscriptions for one user.
		userURN, _ := urn.Parse("urn:sm:user:integ-user")
		require.NoError(t, store.RegisterWeb(ctx, userURN, newSubscription(t, pushServer.URL+"/push/live")))
		require.NoError(t, store.RegisterWeb(ctx, userURN, newSubscription(t, pushServer.URL+"/expired/old")))

		// Step B: publish a scheduled broadcast.
		payload, _ := json.Marshal(dispatch.BroadcastRequest{
			Title:        "Hello",
			Body:         "From the scheduler",
			TargetType:   dispatch.TargetUser,
			TargetUserID: userURN.String(),
		})
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: both endpoints were attempted.
		require.Eventually(t, func() bool {
			return delivered.Load() == 1 && expired.Load() == 1
		}, 15*time.Second, 100*time.Millisecond)

		// Assert: the expired subscription is pruned.
		require.Eventually(t, func() bool {
			subs, err := store.Fetch(ctx, userURN)
			return err == nil && len(subs) == 1 && strings.HasSuffix(subs[0].Endpoint, "/push/live")
		}, 10*time.Second, 100*time.Millisecond)

		// Assert: one delivery log attributed to the scheduler.
		require.Eventually(t, func() bool {
			iter := fsClient.Collection("notification_logs").Documents(ctx)
			defer iter.Stop()
			for {
				doc, err := iter.Next()
				if err == iterator.Done {
					return false
				}
				if err != nil {
					return false
				}
				var rec dispatch.LogRecord
				if doc.DataTo(&rec) == nil && rec.SentBy == "system" {
					assert.Equal(t, 2, rec.TotalRecipients)
					assert.Equal(t, 1, rec.SuccessCount)
					assert.Equal(t, 1, rec.FailureCount)
					return true
				}
			}
		}, 10*time.Second, 100*time.Millisecond)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}

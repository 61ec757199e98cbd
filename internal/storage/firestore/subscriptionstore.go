// Package firestore persists web push subscriptions and delivery logs in
// Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

const (
	usersCollection   = "users"
	devicesCollection = "devices"
	platformWeb       = "web"
)

// SubscriptionStore implements dispatch.SubscriptionStore on Firestore.
//
// Layout: users/{userURN}/devices/{sha256(endpoint)}
type SubscriptionStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewSubscriptionStore(client *firestore.Client) *SubscriptionStore {
	return &SubscriptionStore{client: client, now: time.Now}
}

// deviceRecord is the stored document.
type deviceRecord struct {
	Platform     string                `firestore:"platform"`
	Owner        string                `firestore:"owner"`
	Subscription dispatch.Subscription `firestore:"subscription"`
	UpdatedAt    time.Time             `firestore:"updated_at"`
}

func (s *SubscriptionStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.Subscription) error {
	if sub.Endpoint == "" {
		return errors.New("subscription endpoint is empty")
	}
	sub.OwnerID = user.String()

	// The endpoint is the identity of a browser subscription; re-registering
	// the same endpoint refreshes keys and updated_at.
	record := deviceRecord{
		Platform:     platformWeb,
		Owner:        user.String(),
		Subscription: sub,
		UpdatedAt:    s.now().UTC(),
	}
	if _, err := s.deviceRef(user, hashEndpoint(sub.Endpoint)).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to store web subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if _, err := s.deviceRef(user, hashEndpoint(endpoint)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete web subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Subscription, error) {
	return collect(s.devicesCollection(user).Documents(ctx))
}

// Resolve selects subscriptions for a broadcast target. "all" and "inactive"
// use a collection group query across every user's devices.
func (s *SubscriptionStore) Resolve(ctx context.Context, target dispatch.Target) ([]dispatch.Subscription, error) {
	switch target.Type {
	case dispatch.TargetUser:
		user, err := urn.Parse(target.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid target user %q: %w", target.UserID, err)
		}
		return s.Fetch(ctx, user)

	case dispatch.TargetAll:
		q := s.client.CollectionGroup(devicesCollection).Where("platform", "==", platformWeb)
		return collect(q.Documents(ctx))

	case dispatch.TargetInactive:
		cutoff := s.now().UTC().AddDate(0, 0, -target.InactiveDays)
		q := s.client.CollectionGroup(devicesCollection).Where("updated_at", "<", cutoff)
		return collect(q.Documents(ctx))
	}
	return nil, fmt.Errorf("unknown target type %q", target.Type)
}

// collect drains iter into subscriptions. Non-web and corrupt documents are skipped.
func collect(iter *firestore.DocumentIterator) ([]dispatch.Subscription, error) {
	defer iter.Stop()

	subs := make([]dispatch.Subscription, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		if record.Platform != platformWeb || record.Subscription.Endpoint == "" {
			continue
		}
		if record.Subscription.OwnerID == "" {
			record.Subscription.OwnerID = record.Owner
		}
		subs = append(subs, record.Subscription)
	}
	return subs, nil
}

// deviceRef: users/{userID}/devices/{endpointHash}
func (s *SubscriptionStore) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *SubscriptionStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(user.String()).Collection(devicesCollection)
}

func hashEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])
}

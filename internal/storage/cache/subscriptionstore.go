package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// CacheClient is the subset of cache operations the decorator needs.
type CacheClient interface {
	// Get decodes the value into dest, or returns an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedSubscriptionStore adds read-aside caching of per-user subscriptions
// to any dispatch.SubscriptionStore. Writes invalidate the user's entry.
type CachedSubscriptionStore struct {
	realStore dispatch.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedSubscriptionStore(realStore dispatch.SubscriptionStore, cache CacheClient, ttl time.Duration) *CachedSubscriptionStore {
	return &CachedSubscriptionStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSubscriptionStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Subscription, error) {
	key := s.cacheKey(user)

	var cached []dispatch.Subscription
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// Redis being down only costs a Firestore read.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// Resolve serves single-user targets from the cache. Audience-wide targets
// always go to the store.
func (s *CachedSubscriptionStore) Resolve(ctx context.Context, target dispatch.Target) ([]dispatch.Subscription, error) {
	if target.Type == dispatch.TargetUser {
		user, err := urn.Parse(target.UserID)
		if err != nil {
			return nil, fmt.Errorf("invalid target user %q: %w", target.UserID, err)
		}
		return s.Fetch(ctx, user)
	}
	return s.realStore.Resolve(ctx, target)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriptionStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.Subscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// UnregisterWeb must clear the cache even though the store write succeeded,
// otherwise a pruned endpoint keeps being targeted until the TTL expires.
func (s *CachedSubscriptionStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedSubscriptionStore) invalidate(ctx context.Context, user urn.URN) error {
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedSubscriptionStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:subscriptions:%s", user.String())
}

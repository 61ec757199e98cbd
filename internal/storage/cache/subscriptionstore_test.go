package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/internal/storage/cache"
	"github.com/tinywideclouds/go-push-delivery/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.Subscription) error {
	return m.Called(ctx, user, sub).Error(0)
}
func (m *MockRealStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	return m.Called(ctx, user, endpoint).Error(0)
}
func (m *MockRealStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Subscription, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Subscription), args.Error(1)
}
func (m *MockRealStore) Resolve(ctx context.Context, target dispatch.Target) ([]dispatch.Subscription, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Subscription), args.Error(1)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedSubscriptionStore(mockDB, mockCache, 1*time.Hour)
	userURN, _ := urn.Parse("urn:sm:user:annoyed-user")
	cacheKey := "push:subscriptions:urn:sm:user:annoyed-user"

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		endpoint := "https://old.endpoint"

		mockDB.On("UnregisterWeb", ctx, userURN, endpoint).Return(nil).Once()
		mockCache.On("Del", ctx, cacheKey).Return(nil).Once()

		err := store.UnregisterWeb(ctx, userURN, endpoint)

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent Fetch hits DB (Cache Miss)", func(t *testing.T) {
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrMiss).Once()

		empty := []dispatch.Subscription{}
		mockDB.On("Fetch", ctx, userURN).Return(empty, nil).Once()
		mockCache.On("Set", ctx, cacheKey, empty, time.Hour).Return(nil).Once()

		subs, err := store.Fetch(ctx, userURN)

		require.NoError(t, err)
		require.Empty(t, subs)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Store write failure leaves cache untouched", func(t *testing.T) {
		sub := dispatch.Subscription{Endpoint: "https://new.endpoint"}
		mockDB.On("RegisterWeb", ctx, userURN, sub).Return(assert.AnError).Once()

		err := store.RegisterWeb(ctx, userURN, sub)

		assert.ErrorIs(t, err, assert.AnError)
		mockCache.AssertNumberOfCalls(t, "Del", 1)
	})
}

func TestCachedStore_ReadPaths(t *testing.T) {
	ctx := context.Background()
	userURN, _ := urn.Parse("urn:sm:user:cached-user")
	cacheKey := "push:subscriptions:urn:sm:user:cached-user"
	cachedSubs := []dispatch.Subscription{{OwnerID: userURN.String(), Endpoint: "https://cached.endpoint"}}

	t.Run("Cache hit skips the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSubscriptionStore(mockDB, mockCache, time.Minute)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Run(func(args mock.Arguments) {
			dest := args.Get(2).(*[]dispatch.Subscription)
			*dest = cachedSubs
		}).Return(nil).Once()

		subs, err := store.Resolve(ctx, dispatch.Target{Type: dispatch.TargetUser, UserID: userURN.String()})

		require.NoError(t, err)
		assert.Equal(t, cachedSubs, subs)
		mockDB.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})

	t.Run("Cache write failure still serves from store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSubscriptionStore(mockDB, mockCache, time.Minute)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError).Once()
		mockDB.On("Fetch", ctx, userURN).Return(cachedSubs, nil).Once()
		mockCache.On("Set", ctx, cacheKey, cachedSubs, time.Minute).Return(assert.AnError).Once()

		subs, err := store.Fetch(ctx, userURN)

		require.NoError(t, err)
		assert.Equal(t, cachedSubs, subs)
	})

	t.Run("Audience targets bypass the cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedSubscriptionStore(mockDB, mockCache, time.Minute)

		target := dispatch.Target{Type: dispatch.TargetAll}
		mockDB.On("Resolve", ctx, target).Return(cachedSubs, nil).Once()

		subs, err := store.Resolve(ctx, target)

		require.NoError(t, err)
		assert.Len(t, subs, 1)
		mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}

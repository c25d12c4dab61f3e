package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/internal/storage/cache"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
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

func (m *MockRealStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return m.Called(ctx, user, token).Error(0)
}
func (m *MockRealStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return m.Called(ctx, user, token).Error(0)
}
func (m *MockRealStore) RegisterHMS(ctx context.Context, user urn.URN, token string) error {
	return m.Called(ctx, user, token).Error(0)
}
func (m *MockRealStore) UnregisterHMS(ctx context.Context, user urn.URN, token string) error {
	return m.Called(ctx, user, token).Error(0)
}
func (m *MockRealStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.WebSubscription) error {
	return m.Called(ctx, user, sub).Error(0)
}
func (m *MockRealStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	return m.Called(ctx, user, endpoint).Error(0)
}
func (m *MockRealStore) Fetch(ctx context.Context, user urn.URN) (*dispatch.DeviceSet, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.DeviceSet), args.Error(1)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	userURN, _ := urn.Parse("urn:sm:user:annoyed-user")
	cacheKey := "push:devices:urn:sm:user:annoyed-user"

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		token := "old-apns-token"

		mockDB.On("UnregisterAPNS", ctx, userURN, token).Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		err := store.UnregisterAPNS(ctx, userURN, token)

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent Fetch hits DB on cache miss", func(t *testing.T) {
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // error implies miss

		emptySet := &dispatch.DeviceSet{User: userURN, APNSTokens: []string{}}
		mockDB.On("Fetch", ctx, userURN).Return(emptySet, nil)

		mockCache.On("Set", ctx, cacheKey, emptySet, mock.Anything).Return(nil)

		set, err := store.Fetch(ctx, userURN)

		require.NoError(t, err)
		require.Empty(t, set.APNSTokens)
		mockDB.AssertExpectations(t)
	})
}

func TestCachedStore_RegisterInvalidates(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	userURN, _ := urn.Parse("urn:sm:user:new-phone")
	cacheKey := "push:devices:urn:sm:user:new-phone"

	mockDB.On("RegisterHMS", ctx, userURN, "hms-token-1").Return(nil)
	mockCache.On("Del", ctx, cacheKey).Return(nil)

	require.NoError(t, store.RegisterHMS(ctx, userURN, "hms-token-1"))
	mockDB.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

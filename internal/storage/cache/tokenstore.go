// Package cache adds a read-aside caching layer over the device registry.
package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that adds read-aside caching to any
// dispatch.TokenStore. Writes invalidate so "disable notifications" takes
// effect immediately.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (read-aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, user urn.URN) (*dispatch.DeviceSet, error) {
	key := s.cacheKey(user)
	var cached dispatch.DeviceSet

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, user)
	if err != nil {
		return nil, err
	}

	// Fire and forget: caching is an optimization, not a transaction.
	// If Redis is down we just serve from the source of truth.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (invalidate-on-write) ---

func (s *CachedTokenStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) RegisterHMS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterHMS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterHMS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterHMS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, user urn.URN, sub dispatch.WebSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, user urn.URN) error {
	// Delete the key; the next Fetch is forced to the real store.
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedTokenStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:devices:%s", user.String())
}

package hms

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how long before its computed expiry a cached token
// stops being handed out. Huawei's tokens last an hour; refreshing five
// minutes early keeps in-flight sends clear of the edge.
const DefaultRefreshMargin = 5 * time.Minute

// tokenIssuer is the exchange primitive CachedTokenSource wraps. Satisfied by
// *OAuthClient.
type tokenIssuer interface {
	Authenticate(ctx context.Context) (*Token, error)
}

// CachedTokenSource keeps one access token per credential and re-exchanges it
// single-flight once the token is within the refresh margin of its expiry.
// A token is never handed out past its computed expiry instant.
type CachedTokenSource struct {
	issuer tokenIssuer
	margin time.Duration
	now    func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	token *Token
}

// NewCachedTokenSource wraps issuer. A non-positive margin selects
// DefaultRefreshMargin.
func NewCachedTokenSource(issuer tokenIssuer, margin time.Duration) *CachedTokenSource {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &CachedTokenSource{
		issuer: issuer,
		margin: margin,
		now:    time.Now,
	}
}

// Bearer returns a currently-valid access token string, exchanging
// credentials if the cached token is absent or near expiry.
func (s *CachedTokenSource) Bearer(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		if token, ok := s.cached(); ok {
			return token, nil
		}
		token, err := s.issuer.Authenticate(ctx)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.token = token
		s.mu.Unlock()
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *CachedTokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || !s.now().Add(s.margin).Before(s.token.ExpiresAt()) {
		return "", false
	}
	return s.token.AccessToken, true
}

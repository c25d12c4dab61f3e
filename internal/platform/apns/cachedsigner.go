package apns

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTokenMaxAge is how long a signed provider token is reused before a
// fresh one is minted. Apple accepts tokens up to roughly an hour old and
// discourages signing a new one per request; 50 minutes leaves headroom.
const DefaultTokenMaxAge = 50 * time.Minute

// tokenSigner is the signing primitive CachedSigner wraps. Satisfied by
// *Signer; narrowed to an interface so tests can count invocations.
type tokenSigner interface {
	Sign() (string, error)
}

// CachedSigner reuses one signed token per credential until it exceeds a
// bounded age. Renewal is single-flight: under concurrent first use exactly
// one signature is computed and every caller observes the same token.
type CachedSigner struct {
	signer tokenSigner
	maxAge time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

// NewCachedSigner wraps signer with reuse up to maxAge. A non-positive maxAge
// selects DefaultTokenMaxAge.
func NewCachedSigner(signer tokenSigner, maxAge time.Duration) *CachedSigner {
	if maxAge <= 0 {
		maxAge = DefaultTokenMaxAge
	}
	return &CachedSigner{
		signer: signer,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Bearer returns a currently-valid signed token, minting one if the cached
// token is absent or past its age bound.
func (c *CachedSigner) Bearer() (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// A caller that lost the race to the lock may arrive after the
		// winner already refreshed; the recheck keeps one signature per window.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		token, err := c.signer.Sign()
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.issuedAt = c.now()
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *CachedSigner) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.now().Sub(c.issuedAt) >= c.maxAge {
		return "", false
	}
	return c.token, true
}

package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Pusher is the uniform facade over one mobile push gateway. Each provider
// implements it independently; there is no shared state between providers.
type Pusher interface {
	// Authenticate returns a bearer token valid for Send. Implementations may
	// cache internally, but a returned token is always currently valid.
	Authenticate(ctx context.Context) (string, error)

	// Send delivers one envelope to one device and classifies the provider's
	// verdict. A non-nil error means the attempt itself failed (credentials,
	// transport); a provider rejection comes back inside the SendResult.
	Send(ctx context.Context, envelope Envelope) (SendResult, error)

	// Close releases the provider transport. Safe to call once the Pusher is
	// no longer needed; in-flight sends must have completed.
	Close()
}

// WebPusher is the delivery contract for browser push subscriptions. Web push
// is batch-shaped at this seam because a single VAPID signature covers a
// subscription's origin, not a device token.
type WebPusher interface {
	Dispatch(ctx context.Context, subs []WebSubscription, content Content, data map[string]string) (string, []WebSubscription, error)
}

// TokenStore is the device registry: it remembers "where" to reach a user.
// It stores device tokens, never authentication tokens.
type TokenStore interface {
	// RegisterAPNS adds or updates an APNs device token for a user (upsert).
	RegisterAPNS(ctx context.Context, user urn.URN, token string) error
	// UnregisterAPNS removes an APNs device token. Idempotent.
	UnregisterAPNS(ctx context.Context, user urn.URN, token string) error

	// RegisterHMS adds or updates an HMS device token for a user (upsert).
	RegisterHMS(ctx context.Context, user urn.URN, token string) error
	// UnregisterHMS removes an HMS device token. Idempotent.
	UnregisterHMS(ctx context.Context, user urn.URN, token string) error

	// RegisterWeb adds or updates a web push subscription for a user.
	RegisterWeb(ctx context.Context, user urn.URN, sub WebSubscription) error
	// UnregisterWeb removes a web push subscription by its endpoint URL.
	UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error

	// Fetch returns every registered device for a user, bucketed by platform.
	Fetch(ctx context.Context, user urn.URN) (*DeviceSet, error)
}

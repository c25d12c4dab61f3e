package apns

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Pusher binds the cached signer to the dispatcher, satisfying
// dispatch.Pusher. Each Send authenticates through the cache, so the token is
// only re-signed when its age bound expires.
type Pusher struct {
	signer     *CachedSigner
	dispatcher *Dispatcher
}

// NewPusher builds the complete APNs door from one credential config.
// tokenMaxAge <= 0 selects the default reuse window.
func NewPusher(cfg Config, env Environment, tokenMaxAge time.Duration, logger *slog.Logger) (*Pusher, error) {
	signer, err := NewSigner(cfg)
	if err != nil {
		return nil, err
	}
	return &Pusher{
		signer:     NewCachedSigner(signer, tokenMaxAge),
		dispatcher: NewDispatcher(cfg, env, logger),
	}, nil
}

func (p *Pusher) Authenticate(_ context.Context) (string, error) {
	return p.signer.Bearer()
}

func (p *Pusher) Send(ctx context.Context, envelope dispatch.Envelope) (dispatch.SendResult, error) {
	bearer, err := p.Authenticate(ctx)
	if err != nil {
		return dispatch.SendResult{}, err
	}
	return p.dispatcher.Send(ctx, bearer, envelope)
}

func (p *Pusher) Close() {
	p.dispatcher.Close()
}

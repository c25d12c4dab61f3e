package hms

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Pusher binds the cached token source to the dispatcher, satisfying
// dispatch.Pusher. Credentials are exchanged only when the cached access
// token nears expiry.
type Pusher struct {
	tokens     *CachedTokenSource
	dispatcher *Dispatcher
}

// NewPusher builds the complete HMS door from one credential config.
// refreshMargin <= 0 selects the default.
func NewPusher(cfg Config, refreshMargin time.Duration, logger *slog.Logger) *Pusher {
	return &Pusher{
		tokens:     NewCachedTokenSource(NewOAuthClient(cfg, logger), refreshMargin),
		dispatcher: NewDispatcher(cfg, logger),
	}
}

func (p *Pusher) Authenticate(ctx context.Context) (string, error) {
	return p.tokens.Bearer(ctx)
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

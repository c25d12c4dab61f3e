// Package hms implements the Huawei Mobile Services push integration: the
// OAuth2 token exchange and the per-application send endpoint.
package hms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// DefaultTokenURL is Huawei's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth-login.cloud.huawei.com/oauth2/v2/token"

// Config holds the HMS application credentials.
type Config struct {
	// ClientID is the application's OAuth client id (the numeric app id).
	ClientID string
	// ClientSecret is the application's client secret.
	ClientSecret string
	// TokenURL overrides the token endpoint; empty selects DefaultTokenURL.
	TokenURL string
}

// Token is a short-lived HMS access token. Expiry is relative to issuance:
// the client stamps IssuedAt when the exchange completes and a token must
// never be used past ExpiresAt.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            int    `json:"error"`
	SubError         int    `json:"sub_error"`
	ErrorDescription string `json:"error_description"`

	IssuedAt time.Time `json:"-"`
}

// ExpiresAt is the instant the token stops being valid.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// OAuthClient exchanges client credentials (or a refresh token) for an access
// token. It performs the round trip only; it never caches, so expiry tracking
// belongs to the caller (see CachedTokenSource).
type OAuthClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewOAuthClient(cfg Config, logger *slog.Logger) *OAuthClient {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	return &OAuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "HMSOAuthClient"),
		now:        time.Now,
	}
}

// Authenticate performs the client_credentials grant.
func (c *OAuthClient) Authenticate(ctx context.Context) (*Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	return c.exchange(ctx, form)
}

// Refresh performs the refresh_token grant.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	return c.exchange(ctx, form)
}

func (c *OAuthClient) exchange(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &dispatch.TransportError{Op: "hms token request build", Err: err}
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &dispatch.TransportError{Op: "hms token exchange", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &dispatch.TransportError{Op: "hms token response read", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &dispatch.AuthError{
			StatusCode:  resp.StatusCode,
			Description: strings.TrimSpace(string(body)),
		}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: hms token body: %v", dispatch.ErrMalformedResponse, err)
	}

	// Huawei reports some rejections as error codes inside a 200 body.
	// The HTTP status alone is not the success signal.
	if token.Error != 0 {
		return nil, &dispatch.AuthError{
			StatusCode:  resp.StatusCode,
			Code:        token.Error,
			SubCode:     token.SubError,
			Description: token.ErrorDescription,
		}
	}

	token.IssuedAt = c.now()
	c.logger.Debug("HMS token issued", "expires_in", token.ExpiresIn)
	return &token, nil
}

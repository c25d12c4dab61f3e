// Package web delivers notifications to browser push subscriptions via VAPID.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// VapidConfig holds the server's VAPID key pair and contact address.
type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends the notification to each subscription and returns the
// subscriptions whose endpoints reported themselves gone, so the caller can
// purge them from the registry.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []dispatch.WebSubscription,
	content dispatch.Content,
	data map[string]string,
) (string, []dispatch.WebSubscription, error) {

	var invalidSubs []dispatch.WebSubscription
	successCount := 0
	failureCount := 0

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
		},
		"data": data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}

		resp, err := webpush.SendNotification(payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout). Log and skip, don't delete.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			// Endpoint is dead. Return for cleanup.
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}

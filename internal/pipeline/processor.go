package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/hms"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// NewProcessor creates the logic that handles the fan-out: look up the
// recipient's devices, build a per-provider envelope for each, send through
// the provider door and purge devices the provider reports as dead.
//
// Any pusher may be nil when that provider is not configured; its bucket is
// then skipped with a log line rather than an error.
func NewProcessor(
	apnsPusher dispatch.Pusher,
	hmsPusher dispatch.Pusher,
	webDispatcher dispatch.WebPusher,
	tokenStore dispatch.TokenStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.PushRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.PushRequest) error {
		procLogger := logger.With(
			"recipient_id", request.Recipient.String(),
			"pubsub_msg_id", original.ID,
		)

		devices, err := tokenStore.Fetch(ctx, request.Recipient)
		if err != nil {
			procLogger.Error("Failed to fetch device tokens", "err", err)
			return err
		}

		dispatched := 0

		// Path A: APNs.
		if len(devices.APNSTokens) > 0 {
			if apnsPusher == nil {
				procLogger.Warn("APNs devices registered but APNs is not configured; skipping", "count", len(devices.APNSTokens))
			} else {
				payload, err := buildAPNSPayload(request)
				if err != nil {
					procLogger.Error("APNs payload build failed", "err", err)
					return err
				}
				dispatched += sendToTokens(ctx, procLogger, "apns", apnsPusher, devices.APNSTokens,
					func(token string) dispatch.Envelope {
						return dispatch.Envelope{
							DeviceToken:   token,
							Payload:       payload,
							Expiration:    request.Expiration,
							Priority:      request.Priority,
							Background:    request.Background,
							CorrelationID: uuid.NewString(),
							CollapseID:    request.CollapseID,
						}
					},
					isDeadAPNSToken,
					func(token string) error { return tokenStore.UnregisterAPNS(ctx, request.Recipient, token) },
				)
			}
		}

		// Path B: HMS. The device token rides inside the message body, so the
		// payload is rebuilt per device.
		if len(devices.HMSTokens) > 0 {
			if hmsPusher == nil {
				procLogger.Warn("HMS devices registered but HMS is not configured; skipping", "count", len(devices.HMSTokens))
			} else {
				dispatched += sendToTokens(ctx, procLogger, "hms", hmsPusher, devices.HMSTokens,
					func(token string) dispatch.Envelope {
						payload, err := buildHMSPayload(request, token)
						if err != nil {
							// Marshalling maps of strings cannot realistically
							// fail; an empty payload surfaces as a provider
							// rejection which is logged downstream.
							procLogger.Error("HMS payload build failed", "err", err)
						}
						return dispatch.Envelope{DeviceToken: token, Payload: payload}
					},
					isDeadHMSToken,
					func(token string) error { return tokenStore.UnregisterHMS(ctx, request.Recipient, token) },
				)
			}
		}

		// Path C: Web (VAPID).
		if len(devices.WebSubscriptions) > 0 {
			if webDispatcher == nil {
				procLogger.Warn("Web subscriptions registered but web push is not configured; skipping", "count", len(devices.WebSubscriptions))
			} else {
				receipt, invalidSubs, err := webDispatcher.Dispatch(ctx, devices.WebSubscriptions, request.Content, request.Data)
				if len(invalidSubs) > 0 {
					procLogger.Info("Cleaning up invalid web subscriptions", "count", len(invalidSubs))
					for _, sub := range invalidSubs {
						if err := tokenStore.UnregisterWeb(ctx, request.Recipient, sub.Endpoint); err != nil {
							procLogger.Warn("Failed to delete web subscription", "endpoint", sub.Endpoint, "err", err)
						}
					}
				}
				if err != nil {
					procLogger.Error("Web dispatch failed", "err", err)
					return err // Retryable
				}
				procLogger.Info("Web dispatched", "receipt", receipt)
				dispatched += len(devices.WebSubscriptions) - len(invalidSubs)
			}
		}

		if len(devices.APNSTokens) == 0 && len(devices.HMSTokens) == 0 && len(devices.WebSubscriptions) == 0 {
			procLogger.Info("No devices registered for user; dropping notification.")
			return nil
		}

		procLogger.Debug("Push request processed", "delivered", dispatched)
		return nil
	}
}

// sendToTokens runs the single-device send loop for one provider door.
// Transport failures are logged and skipped (best effort, matching the other
// doors); provider rejections of dead tokens trigger registry cleanup.
func sendToTokens(
	ctx context.Context,
	logger *slog.Logger,
	door string,
	pusher dispatch.Pusher,
	tokens []string,
	envelopeFor func(token string) dispatch.Envelope,
	isDead func(result dispatch.SendResult) bool,
	unregister func(token string) error,
) int {
	successCount := 0
	for _, token := range tokens {
		result, err := pusher.Send(ctx, envelopeFor(token))
		if err != nil {
			logger.Error("Push transport failed", "door", door, "token", token, "err", err)
			continue
		}
		if result.Success {
			successCount++
			continue
		}
		if isDead(result) {
			logger.Info("Cleaning up dead device token", "door", door, "reason", result.ErrorCode)
			if err := unregister(token); err != nil {
				logger.Warn("Failed to delete device token", "door", door, "token", token, "err", err)
			}
			continue
		}
		// Other rejections (payload, topic, rate limit) are logged, not
		// treated as dead tokens: the token may be fine and our request wrong.
		logger.Warn("Provider rejected notification", "door", door,
			"reason", result.ErrorCode, "msg", result.ErrorMessage, "status", result.StatusCode)
	}
	return successCount
}

func isDeadAPNSToken(result dispatch.SendResult) bool {
	switch result.ErrorCode {
	case apns.ReasonBadDeviceToken, apns.ReasonUnregistered, apns.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}

func isDeadHMSToken(result dispatch.SendResult) bool {
	return result.ErrorCode == hms.CodeInvalidToken
}

// Package dispatch contains the public contracts shared by the push gateway's
// provider integrations: the envelope handed to a dispatcher, the uniform
// result a dispatcher reports back, and the device registry interfaces.
package dispatch

import (
	"encoding/json"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Priority values for APNs delivery (the provider's own scale).
const (
	PriorityImmediate   = 10
	PriorityPowerSaving = 5
)

// Content is the human-visible part of a notification.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

// Envelope is a single-device send request. The payload is opaque JSON built
// by the caller; the gateway never inspects it. Exactly one device per
// envelope: fan-out across a user's devices is the pipeline's job, not the
// dispatcher's.
type Envelope struct {
	// DeviceToken identifies the target device at the provider.
	DeviceToken string

	// Payload is the serialized notification body, passed through unmodified.
	Payload json.RawMessage

	// Expiration is the provider's expiration value (epoch seconds for APNs).
	// 0 means "deliver now or discard" and is passed through as-is.
	Expiration int64

	// Priority of delivery. 0 means "use the provider's immediate default".
	Priority int

	// Background marks a silent/background push rather than a user-visible alert.
	Background bool

	// CorrelationID, when set, is forwarded to the provider (apns-id).
	// When empty the corresponding header is omitted entirely.
	CorrelationID string

	// CollapseID, when set, lets the provider coalesce superseded notifications.
	CollapseID string
}

// SendResult is the uniform classification of a provider response.
// A false Success with a populated ErrorCode is a provider-level rejection
// (DeliveryRejected); transport faults are reported as errors, never as results.
type SendResult struct {
	Success bool

	// StatusCode is the raw HTTP status from the provider.
	StatusCode int

	// ErrorCode is the provider's failure reason ("Unregistered", "80300007"),
	// verbatim. Empty on success.
	ErrorCode string

	// ErrorMessage is the provider's human-readable description, if any.
	ErrorMessage string

	// RequestID is the provider-assigned correlation id (apns-id, requestId),
	// when the provider supplies one.
	RequestID string

	// Timestamp is the provider's failure timestamp (APNs sends one with 410
	// Unregistered), in the provider's own units. 0 when absent.
	Timestamp int64
}

// WebSubscriptionKeys holds the browser-generated encryption keys, base64url
// encoded as the browser hands them out.
type WebSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// WebSubscription is a web push registration as delivered by the browser.
type WebSubscription struct {
	Endpoint string              `json:"endpoint"`
	Keys     WebSubscriptionKeys `json:"keys"`
}

// DeviceSet is everything the registry knows about one user's devices,
// bucketed by delivery door.
type DeviceSet struct {
	User             urn.URN
	APNSTokens       []string
	HMSTokens        []string
	WebSubscriptions []WebSubscription
}

// PushRequest is the unit of work the pipeline consumes: who to notify and
// with what. Delivery controls ride along so callers can tune a single
// request without touching gateway configuration.
type PushRequest struct {
	Recipient  urn.URN
	Content    Content
	Data       map[string]string
	Background bool
	Expiration int64
	Priority   int
	CollapseID string
}

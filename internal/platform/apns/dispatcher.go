package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Environment selects which of Apple's two fixed gateway hosts a dispatcher
// talks to. There is deliberately no way to point it anywhere else.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

const (
	hostDevelopment = "https://api.development.push.apple.com:443"
	hostProduction  = "https://api.push.apple.com:443"
)

// ReasonUnknown is reported when APNs rejects a request but the error body is
// absent or unparseable.
const ReasonUnknown = "Unknown"

// Rejection reasons that mean the device token itself is dead and should be
// purged from the registry.
const (
	ReasonBadDeviceToken         = "BadDeviceToken"
	ReasonUnregistered           = "Unregistered"
	ReasonDeviceTokenNotForTopic = "DeviceTokenNotForTopic"
)

// Dispatcher sends single-device notifications to APNs. It is stateless apart
// from one lazily-created HTTP/2 client shared by every Send from this
// instance. The client is h2-only: if the peer cannot negotiate HTTP/2 the
// request fails instead of downgrading, which APNs would reject anyway.
type Dispatcher struct {
	topic  string
	env    Environment
	logger *slog.Logger

	initOnce sync.Once
	client   *http.Client
}

// NewDispatcher creates an APNs dispatcher for the given environment.
// No connection is opened until the first Send.
func NewDispatcher(cfg Config, env Environment, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		topic:  cfg.BundleID,
		env:    env,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) host() string {
	if d.env == EnvironmentDevelopment {
		return hostDevelopment
	}
	return hostProduction
}

func (d *Dispatcher) httpClient() *http.Client {
	d.initOnce.Do(func() {
		if d.client == nil {
			d.client = &http.Client{
				Transport: &http2.Transport{},
				Timeout:   30 * time.Second,
			}
		}
	})
	return d.client
}

// Send posts one envelope to /3/device/{token} and classifies the response.
// A nil error with Success=false is a provider rejection; errors are reserved
// for transport faults.
func (d *Dispatcher) Send(ctx context.Context, bearer string, envelope dispatch.Envelope) (dispatch.SendResult, error) {
	url := d.host() + "/3/device/" + envelope.DeviceToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope.Payload))
	if err != nil {
		return dispatch.SendResult{}, &dispatch.TransportError{Op: "apns request build", Err: err}
	}

	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", d.topic)
	req.Header.Set("apns-expiration", strconv.FormatInt(envelope.Expiration, 10))

	priority := envelope.Priority
	if priority == 0 {
		priority = dispatch.PriorityImmediate
	}
	req.Header.Set("apns-priority", strconv.Itoa(priority))

	// Mandatory since the iOS 13 protocol revision; omitting it is a
	// protocol violation, not an optional hint.
	pushType := "alert"
	if envelope.Background {
		pushType = "background"
	}
	req.Header.Set("apns-push-type", pushType)

	if envelope.CorrelationID != "" {
		req.Header.Set("apns-id", envelope.CorrelationID)
	}
	if envelope.CollapseID != "" {
		req.Header.Set("apns-collapse-id", envelope.CollapseID)
	}

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return dispatch.SendResult{}, &dispatch.TransportError{Op: "apns send", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	result := dispatch.SendResult{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("apns-id"),
	}

	if resp.StatusCode == http.StatusOK {
		result.Success = true
		return result, nil
	}

	// Non-200 responses carry {"reason": ..., "timestamp": ...}. A body we
	// cannot parse degrades to ReasonUnknown; it must never abort the call.
	var apnsErr struct {
		Reason    string `json:"reason"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apnsErr); err != nil || apnsErr.Reason == "" {
		d.logger.Warn("APNs error body unparseable", "status", resp.StatusCode, "err", err)
		result.ErrorCode = ReasonUnknown
		return result, nil
	}

	result.ErrorCode = apnsErr.Reason
	result.Timestamp = apnsErr.Timestamp
	return result, nil
}

// Close releases the shared transport's idle connections. The dispatcher must
// not be used after Close.
func (d *Dispatcher) Close() {
	if d.client != nil {
		if t, ok := d.client.Transport.(*http2.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

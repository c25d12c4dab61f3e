package hms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const sendEndpointBase = "https://push-api.cloud.huawei.com"

// Provider result codes. Success is a sentinel inside the JSON body; the
// transport status alone never decides the outcome.
const (
	CodeSuccess      = "80000000"
	CodeInvalidToken = "80300007"
	CodeUnknown      = "Unknown"
)

// Dispatcher sends messages to the per-application HMS endpoint
// /v1/{clientId}/messages:send. Stateless apart from one lazily-created
// HTTP client shared across sends.
type Dispatcher struct {
	clientID string
	logger   *slog.Logger

	initOnce sync.Once
	client   *http.Client
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		clientID: cfg.ClientID,
		logger:   logger.With("component", "HMSDispatcher"),
	}
}

func (d *Dispatcher) httpClient() *http.Client {
	d.initOnce.Do(func() {
		if d.client == nil {
			d.client = &http.Client{Timeout: 30 * time.Second}
		}
	})
	return d.client
}

// Send posts the envelope payload and classifies the {code, msg, requestId}
// verdict. Business failures inside a 200 envelope come back as
// Success=false, never as an error.
func (d *Dispatcher) Send(ctx context.Context, bearer string, envelope dispatch.Envelope) (dispatch.SendResult, error) {
	url := fmt.Sprintf("%s/v1/%s/messages:send", sendEndpointBase, d.clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope.Payload))
	if err != nil {
		return dispatch.SendResult{}, &dispatch.TransportError{Op: "hms request build", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "bearer "+bearer)

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return dispatch.SendResult{}, &dispatch.TransportError{Op: "hms send", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	result := dispatch.SendResult{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		d.logger.Warn("HMS response read failed", "err", err)
		result.ErrorCode = CodeUnknown
		return result, nil
	}

	var verdict struct {
		Code      string `json:"code"`
		Msg       string `json:"msg"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(body, &verdict); err != nil || verdict.Code == "" {
		d.logger.Warn("HMS response body unparseable", "status", resp.StatusCode, "err", err)
		result.ErrorCode = CodeUnknown
		return result, nil
	}

	result.RequestID = verdict.RequestID
	if verdict.Code == CodeSuccess {
		result.Success = true
		return result, nil
	}

	result.ErrorCode = verdict.Code
	result.ErrorMessage = verdict.Msg
	return result, nil
}

// Close releases the shared transport's idle connections.
func (d *Dispatcher) Close() {
	if d.client != nil {
		d.client.CloseIdleConnections()
	}
}

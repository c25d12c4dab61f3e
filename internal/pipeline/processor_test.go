package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed mocks ---

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) Authenticate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *mockPusher) Send(ctx context.Context, envelope dispatch.Envelope) (dispatch.SendResult, error) {
	args := m.Called(ctx, envelope)
	return args.Get(0).(dispatch.SendResult), args.Error(1)
}
func (m *mockPusher) Close() {}

type mockWebPusher struct {
	mock.Mock
}

func (m *mockWebPusher) Dispatch(ctx context.Context, subs []dispatch.WebSubscription, content dispatch.Content, data map[string]string) (string, []dispatch.WebSubscription, error) {
	args := m.Called(ctx, subs, content, data)
	return args.String(0), args.Get(1).([]dispatch.WebSubscription), args.Error(2)
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) RegisterAPNS(ctx context.Context, u urn.URN, token string) error {
	return m.Called(ctx, u, token).Error(0)
}
func (m *mockTokenStore) UnregisterAPNS(ctx context.Context, u urn.URN, token string) error {
	return m.Called(ctx, u, token).Error(0)
}
func (m *mockTokenStore) RegisterHMS(ctx context.Context, u urn.URN, token string) error {
	return m.Called(ctx, u, token).Error(0)
}
func (m *mockTokenStore) UnregisterHMS(ctx context.Context, u urn.URN, token string) error {
	return m.Called(ctx, u, token).Error(0)
}
func (m *mockTokenStore) RegisterWeb(ctx context.Context, u urn.URN, sub dispatch.WebSubscription) error {
	return m.Called(ctx, u, sub).Error(0)
}
func (m *mockTokenStore) UnregisterWeb(ctx context.Context, u urn.URN, endpoint string) error {
	return m.Called(ctx, u, endpoint).Error(0)
}
func (m *mockTokenStore) Fetch(ctx context.Context, u urn.URN) (*dispatch.DeviceSet, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.DeviceSet), args.Error(1)
}

func testRequest(t *testing.T) *dispatch.PushRequest {
	t.Helper()
	recipient, err := urn.Parse("urn:sm:user:alice")
	require.NoError(t, err)
	return &dispatch.PushRequest{
		Recipient: recipient,
		Content:   dispatch.Content{Title: "Hi", Body: "There"},
		Data:      map[string]string{"msg_id": "m-1"},
	}
}

func TestProcessor_APNSPath(t *testing.T) {
	ctx := context.Background()
	req := testRequest(t)

	t.Run("sends one envelope per device token", func(t *testing.T) {
		apnsPusher := new(mockPusher)
		store := new(mockTokenStore)

		store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
			User:       req.Recipient,
			APNSTokens: []string{"tok-1", "tok-2"},
		}, nil)

		apnsPusher.On("Send", mock.Anything, mock.MatchedBy(func(env dispatch.Envelope) bool {
			var payload map[string]interface{}
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return false
			}
			_, hasAps := payload["aps"]
			return hasAps && env.CorrelationID != ""
		})).Return(dispatch.SendResult{Success: true, StatusCode: http.StatusOK}, nil).Twice()

		processor := pipeline.NewProcessor(apnsPusher, nil, nil, store, newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
		apnsPusher.AssertExpectations(t)
	})

	t.Run("self-healing on Unregistered", func(t *testing.T) {
		apnsPusher := new(mockPusher)
		store := new(mockTokenStore)

		store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
			User:       req.Recipient,
			APNSTokens: []string{"dead-token"},
		}, nil)

		apnsPusher.On("Send", mock.Anything, mock.Anything).Return(dispatch.SendResult{
			Success:    false,
			StatusCode: http.StatusGone,
			ErrorCode:  "Unregistered",
		}, nil)
		store.On("UnregisterAPNS", mock.Anything, req.Recipient, "dead-token").Return(nil)

		processor := pipeline.NewProcessor(apnsPusher, nil, nil, store, newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("transport failure is best effort, not a retry storm", func(t *testing.T) {
		apnsPusher := new(mockPusher)
		store := new(mockTokenStore)

		store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
			User:       req.Recipient,
			APNSTokens: []string{"tok-1"},
		}, nil)

		apnsPusher.On("Send", mock.Anything, mock.Anything).Return(
			dispatch.SendResult{}, &dispatch.TransportError{Op: "apns send"})

		processor := pipeline.NewProcessor(apnsPusher, nil, nil, store, newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
	})
}

func TestProcessor_HMSPath(t *testing.T) {
	ctx := context.Background()
	req := testRequest(t)

	t.Run("token rides inside the message body", func(t *testing.T) {
		hmsPusher := new(mockPusher)
		store := new(mockTokenStore)

		store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
			User:      req.Recipient,
			HMSTokens: []string{"hms-tok"},
		}, nil)

		hmsPusher.On("Send", mock.Anything, mock.MatchedBy(func(env dispatch.Envelope) bool {
			var body struct {
				Message struct {
					Token []string `json:"token"`
				} `json:"message"`
			}
			if err := json.Unmarshal(env.Payload, &body); err != nil {
				return false
			}
			return len(body.Message.Token) == 1 && body.Message.Token[0] == "hms-tok"
		})).Return(dispatch.SendResult{Success: true, StatusCode: http.StatusOK}, nil)

		processor := pipeline.NewProcessor(nil, hmsPusher, nil, store, newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
		hmsPusher.AssertExpectations(t)
	})

	t.Run("self-healing on invalid token code", func(t *testing.T) {
		hmsPusher := new(mockPusher)
		store := new(mockTokenStore)

		store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
			User:      req.Recipient,
			HMSTokens: []string{"dead-hms"},
		}, nil)

		hmsPusher.On("Send", mock.Anything, mock.Anything).Return(dispatch.SendResult{
			Success:   false,
			ErrorCode: "80300007",
		}, nil)
		store.On("UnregisterHMS", mock.Anything, req.Recipient, "dead-hms").Return(nil)

		processor := pipeline.NewProcessor(nil, hmsPusher, nil, store, newTestLogger())
		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
		store.AssertExpectations(t)
	})
}

func TestProcessor_WebPath(t *testing.T) {
	ctx := context.Background()
	req := testRequest(t)

	sub := dispatch.WebSubscription{Endpoint: "https://push.example.org/send/old"}

	webPusher := new(mockWebPusher)
	store := new(mockTokenStore)

	store.On("Fetch", mock.Anything, req.Recipient).Return(&dispatch.DeviceSet{
		User:             req.Recipient,
		WebSubscriptions: []dispatch.WebSubscription{sub},
	}, nil)

	webPusher.On("Dispatch", mock.Anything, []dispatch.WebSubscription{sub}, req.Content, req.Data).
		Return("success:0 invalid:1 total_fail:1", []dispatch.WebSubscription{sub}, nil)
	store.On("UnregisterWeb", mock.Anything, req.Recipient, sub.Endpoint).Return(nil)

	processor := pipeline.NewProcessor(nil, nil, webPusher, store, newTestLogger())
	err := processor(ctx, messagepipeline.Message{}, req)

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestProcessor_FetchFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	req := testRequest(t)

	store := new(mockTokenStore)
	store.On("Fetch", mock.Anything, req.Recipient).Return(nil, assert.AnError)

	processor := pipeline.NewProcessor(nil, nil, nil, store, newTestLogger())
	err := processor(ctx, messagepipeline.Message{}, req)

	require.Error(t, err)
}

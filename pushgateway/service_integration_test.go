//go:build integration

package pushgateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	fsStore "github.com/tinywideclouds/go-push-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

// --- MOCKS ---

// capturingPusher satisfies dispatch.Pusher and records every envelope.
type capturingPusher struct {
	mu        sync.Mutex
	envelopes []dispatch.Envelope
}

func (p *capturingPusher) Authenticate(_ context.Context) (string, error) {
	return "bearer-token", nil
}

func (p *capturingPusher) Send(_ context.Context, envelope dispatch.Envelope) (dispatch.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelope)
	return dispatch.SendResult{Success: true, StatusCode: http.StatusOK}, nil
}

func (p *capturingPusher) Close() {}

func (p *capturingPusher) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envelopes)
}

func (p *capturingPusher) LastEnvelope() dispatch.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envelopes[len(p.envelopes)-1]
}

type noopWebPusher struct{}

func (noopWebPusher) Dispatch(_ context.Context, _ []dispatch.WebSubscription, _ dispatch.Content, _ map[string]string) (string, []dispatch.WebSubscription, error) {
	return "web-success", nil, nil
}

// --- TEST ---

func TestPushGateway_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { fsClient.Close() })

	// 2. Token Store (Firestore Implementation)
	tokenStore := fsStore.NewFirestoreStore(fsClient)

	t.Run("Full Lifecycle: Register -> Process -> Dispatch", func(t *testing.T) {
		// Arrange
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		apnsPusher := &capturingPusher{}
		hmsPusher := &capturingPusher{}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, _ := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)

		svc, err := pushgateway.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			apnsPusher,
			hmsPusher,
			noopWebPusher{},
			tokenStore,
			func(h http.Handler) http.Handler { return h }, // No-op Auth
			logger,
		)
		require.NoError(t, err)

		// Start Service
		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { svc.Start(svcCtx) }()
		t.Cleanup(func() { svc.Shutdown(context.Background()) })

		// Step A: Register a device token
		userURN, _ := urn.Parse("urn:sm:user:integ-user")
		err = tokenStore.RegisterAPNS(ctx, userURN, "apns-token-999")
		require.NoError(t, err)

		// Step B: Publish a push request WITHOUT tokens; the service fetches
		// "apns-token-999" from Firestore itself.
		payload, _ := json.Marshal(map[string]any{
			"recipient_id": userURN.String(),
			"content":      dispatch.Content{Title: "Hello"},
		})

		psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)

		// Assert: the APNs door got the token we registered in Step A.
		require.Eventually(t, func() bool {
			return apnsPusher.CallCount() == 1
		}, 10*time.Second, 100*time.Millisecond)

		last := apnsPusher.LastEnvelope()
		assert.Equal(t, "apns-token-999", last.DeviceToken)
		assert.NotEmpty(t, last.Payload)
		assert.Equal(t, 0, hmsPusher.CallCount())
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}

package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

func TestPushRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	validPayload, err := json.Marshal(map[string]interface{}{
		"recipient_id": "urn:sm:user:user-123",
		"content":      dispatch.Content{Title: "Hello", Body: "World"},
		"data":         map[string]string{"msg_id": "42"},
		"priority":     dispatch.PriorityPowerSaving,
		"collapse_id":  "thread-1",
	})
	require.NoError(t, err)

	invalidURNPayload, err := json.Marshal(map[string]interface{}{
		"recipient_id": "not-a-valid-urn",
	})
	require.NoError(t, err)

	testCases := []struct {
		name                  string
		inputMessage          *messagepipeline.Message
		expectError           bool
		expectedErrorContains string
	}{
		{
			name: "Happy Path",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: validPayload},
			},
			expectError: false,
		},
		{
			name: "Failure - Malformed JSON",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-2", Payload: []byte("not-json")},
			},
			expectError:           true,
			expectedErrorContains: "failed to unmarshal push request",
		},
		{
			name: "Failure - Invalid recipient URN",
			inputMessage: &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-3", Payload: invalidURNPayload},
			},
			expectError:           true,
			expectedErrorContains: "invalid recipient urn",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, skip, err := pipeline.PushRequestTransformer(ctx, tc.inputMessage)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.Equal(t, "urn:sm:user:user-123", req.Recipient.String())
				assert.Equal(t, "Hello", req.Content.Title)
				assert.Equal(t, "42", req.Data["msg_id"])
				assert.Equal(t, dispatch.PriorityPowerSaving, req.Priority)
				assert.Equal(t, "thread-1", req.CollapseID)
			}
		})
	}
}

// Package pipeline contains the core message processing components for the
// gateway: unmarshalling inbound push requests and fanning them out to the
// provider doors.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// pushRequestWire mirrors the JSON published to the ingestion topic.
type pushRequestWire struct {
	RecipientID string            `json:"recipient_id"`
	Content     dispatch.Content  `json:"content"`
	Data        map[string]string `json:"data,omitempty"`
	Background  bool              `json:"background,omitempty"`
	Expiration  int64             `json:"expiration,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	CollapseID  string            `json:"collapse_id,omitempty"`
}

// PushRequestTransformer safely unmarshals and validates a raw message
// payload into a structured dispatch.PushRequest. Failures return skip=true
// so the StreamingService can handle the Nack/DLQ logic.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.PushRequest, bool, error) {
	var wire pushRequestWire
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}

	recipient, err := urn.Parse(wire.RecipientID)
	if err != nil {
		return nil, true, fmt.Errorf("invalid recipient urn in message %s: %w", msg.ID, err)
	}

	return &dispatch.PushRequest{
		Recipient:  recipient,
		Content:    wire.Content,
		Data:       wire.Data,
		Background: wire.Background,
		Expiration: wire.Expiration,
		Priority:   wire.Priority,
		CollapseID: wire.CollapseID,
	}, false, nil
}

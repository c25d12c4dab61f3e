package pipeline

import (
	"encoding/json"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// buildAPNSPayload renders the aps dictionary Apple expects. Custom data keys
// ride at the top level next to aps, per the provider's payload rules.
func buildAPNSPayload(req *dispatch.PushRequest) (json.RawMessage, error) {
	payload := make(map[string]interface{}, len(req.Data)+1)
	for k, v := range req.Data {
		payload[k] = v
	}

	aps := map[string]interface{}{}
	if req.Background {
		aps["content-available"] = 1
	} else {
		alert := map[string]string{
			"title": req.Content.Title,
			"body":  req.Content.Body,
		}
		aps["alert"] = alert
		if req.Content.Sound != "" {
			aps["sound"] = req.Content.Sound
		}
	}
	payload["aps"] = aps

	return json.Marshal(payload)
}

type hmsClickAction struct {
	Type int `json:"type"`
}

type hmsNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type hmsAndroidNotification struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	ClickAction hmsClickAction `json:"click_action"`
}

type hmsAndroid struct {
	Notification *hmsAndroidNotification `json:"notification,omitempty"`
}

type hmsMessage struct {
	Token        []string         `json:"token"`
	Data         string           `json:"data,omitempty"`
	Notification *hmsNotification `json:"notification,omitempty"`
	Android      *hmsAndroid      `json:"android,omitempty"`
}

type hmsSendBody struct {
	ValidateOnly bool       `json:"validate_only"`
	Message      hmsMessage `json:"message"`
}

// buildHMSPayload renders the full messages:send body for one device. HMS
// carries the device token inside the message, not in the URL or headers, and
// its data field is a JSON string rather than an object.
func buildHMSPayload(req *dispatch.PushRequest, deviceToken string) (json.RawMessage, error) {
	msg := hmsMessage{Token: []string{deviceToken}}

	if len(req.Data) > 0 {
		dataJSON, err := json.Marshal(req.Data)
		if err != nil {
			return nil, err
		}
		msg.Data = string(dataJSON)
	}

	if !req.Background {
		msg.Notification = &hmsNotification{Title: req.Content.Title, Body: req.Content.Body}
		msg.Android = &hmsAndroid{
			Notification: &hmsAndroidNotification{
				Title:       req.Content.Title,
				Body:        req.Content.Body,
				ClickAction: hmsClickAction{Type: 3},
			},
		}
	}

	return json.Marshal(hmsSendBody{Message: msg})
}

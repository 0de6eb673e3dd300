// Package sms holds outbound SMS sender implementations. Delivery is
// fire-and-forget: the provider owns receipts and segmentation.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender posts outbound messages to a provider-agnostic webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender builds a sender for the given endpoint.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// SendSms posts one message. Any 2xx response counts as accepted.
func (s *WebhookSender) SendSms(ctx context.Context, phoneNumber, body string) error {
	payload, err := json.Marshal(sendRequest{
		PhoneNumber: phoneNumber,
		Message:     body,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms provider returned %d body=%q", resp.StatusCode, string(respBody))
	}
	return nil
}

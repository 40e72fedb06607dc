package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/omnichannel-engine/internal/channel"
	"github.com/ignite/omnichannel-engine/internal/pkg/httpretry"
)

// WebhookGateway delivers messages by POSTing them to an external endpoint
// (push providers, on-site experience services). Transient provider failures
// are retried with backoff.
type WebhookGateway struct {
	client   httpretry.HTTPDoer
	endpoint string
}

type webhookPayload struct {
	MessageID  string `json:"message_id"`
	Channel    string `json:"channel"`
	Type       string `json:"type"`
	CustomerID string `json:"customer_id"`
	Content    string `json:"content"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
}

// NewWebhookGateway creates a gateway posting to endpoint, retrying up to
// maxRetries times on retryable failures.
func NewWebhookGateway(endpoint string, maxRetries int) *WebhookGateway {
	return NewWebhookGatewayWithClient(endpoint, httpretry.NewRetryClient(nil, maxRetries))
}

// NewWebhookGatewayWithClient creates a gateway using the given HTTP client.
func NewWebhookGatewayWithClient(endpoint string, client httpretry.HTTPDoer) *WebhookGateway {
	return &WebhookGateway{client: client, endpoint: endpoint}
}

// Deliver posts the message. The provider may return its own message id; when
// it does not, the generated one is used.
func (g *WebhookGateway) Deliver(ctx context.Context, ch channel.Channel, customerID, content string) (string, error) {
	messageID := uuid.New().String()
	body, err := json.Marshal(webhookPayload{
		MessageID:  messageID,
		Channel:    ch.ID,
		Type:       string(ch.Type),
		CustomerID: customerID,
		Content:    content,
	})
	if err != nil {
		return "", fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("delivering to %s: %w", g.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}

	var wr webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err == nil && wr.MessageID != "" {
		return wr.MessageID, nil
	}
	return messageID, nil
}

// internal/provider/client.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is the SMS/WhatsApp gateway contract. Exactly one call per
// delivery attempt; classification of failures is carried on SendError.
type Client interface {
	Send(ctx context.Context, phone, message string) (*SendResult, error)
}

// HTTPClient posts messages to the gateway's REST endpoint.
type HTTPClient struct {
	URL        string
	APIKey     string
	httpClient *http.Client
}

func NewHTTPClient(url, apiKey string) *HTTPClient {
	return &HTTPClient{
		URL:    url,
		APIKey: apiKey,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (c *HTTPClient) Send(ctx context.Context, phone, message string) (*SendResult, error) {
	payload := map[string]string{
		"to":      phone,
		"message": message,
	}
	jsonPayload, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, &SendError{Reason: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network faults and timeouts are worth another attempt.
		return nil, &SendError{Reason: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		var body struct {
			MessageID string `json:"message_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, &SendError{Reason: "invalid gateway response: " + err.Error(), Retryable: true}
		}
		return &SendResult{ProviderMessageID: body.MessageID}, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &SendError{
			Reason:    fmt.Sprintf("gateway error: status %d", resp.StatusCode),
			Retryable: true,
		}
	default:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		reason := body.Error
		if reason == "" {
			reason = fmt.Sprintf("gateway rejected message: status %d", resp.StatusCode)
		}
		return nil, &SendError{Reason: reason, Retryable: false}
	}
}

var _ Client = (*HTTPClient)(nil)

// Package ai calls the external reply-generation function. The model
// behind it is a black box reached over a stable request/response contract.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type request struct {
	TenantID string `json:"tenant_id"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type response struct {
	Response string `json:"response"`
}

// Client talks to the chat-assistant HTTP function.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 90 * time.Second},
	}
}

// GenerateReply asks the assistant for a reply to one inbound text. An
// empty reply means the assistant chose not to answer.
func (c *Client) GenerateReply(ctx context.Context, tenantID, clientID, text string) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("assistant URL is not configured")
	}

	body, err := json.Marshal(request{TenantID: tenantID, ClientID: clientID, Message: text})
	if err != nil {
		return "", fmt.Errorf("failed to encode assistant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("assistant returned %d: %s", resp.StatusCode, string(detail))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode assistant response: %w", err)
	}
	return out.Response, nil
}

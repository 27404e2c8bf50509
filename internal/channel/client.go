// Package channel wraps the outbound side of the messaging-channel provider
// API: text and media sends, returning the provider message id used to
// correlate the locally-persisted outgoing record.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pomelo/internal/config"
)

// ErrUnresolvableRecipient send target has no stable identifier and no
// usable phone number; the send fails explicitly instead of silently
// dropping the message
var ErrUnresolvableRecipient = errors.New("channel: recipient identity cannot be resolved")

// Sender outbound send port consumed by the services
type Sender interface {
	SendText(ctx context.Context, sessionID, to, text string) (providerID string, err error)
	SendMedia(ctx context.Context, req *MediaRequest) (providerID string, err error)
}

// MediaRequest one outbound media send
type MediaRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Media     string `json:"media"` // base64
	Mimetype  string `json:"mimetype"`
	Filename  string `json:"filename"`
	Caption   string `json:"caption,omitempty"`
}

// Client HTTP client for the channel provider
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a channel client
func NewClient(cfg *config.ChannelConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("channel base URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type textRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

// SendText sends a plain text message
func (c *Client) SendText(ctx context.Context, sessionID, to, text string) (string, error) {
	return c.post(ctx, "/send/text", &textRequest{SessionID: sessionID, To: to, Text: text})
}

// SendMedia sends a media message
func (c *Client) SendMedia(ctx context.Context, req *MediaRequest) (string, error) {
	return c.post(ctx, "/send/media", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("channel request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("channel response read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("channel returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var sendResp sendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("channel response decode failed: %w", err)
	}
	if sendResp.Error != "" {
		return "", fmt.Errorf("channel send failed: %s", sendResp.Error)
	}
	if sendResp.MessageID == "" {
		return "", errors.New("channel response missing messageId")
	}

	return sendResp.MessageID, nil
}

// Package notification delivers applicant messages through the messaging
// provider's REST API.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

const defaultAPIKeyHeader = "Ocp-Apim-Subscription-Key"

// Config holds the messaging provider configuration
type Config struct {
	Endpoint     string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

type message struct {
	FiscalCode string `json:"fiscal_code"`
	Content    string `json:"content"`
}

// Client implements port.NotificationSender
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new notification client
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Send posts the message and returns the provider status code. Only
// transport failures are returned as errors; the caller classifies codes.
func (c *Client) Send(ctx context.Context, applicantID, content string) (int, error) {
	payload, err := json.Marshal(message{FiscalCode: applicantID, Content: content})
	if err != nil {
		return 0, fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Notification posted",
		zap.String("applicant_id", applicantID),
		zap.Int("status", resp.StatusCode))
	return resp.StatusCode, nil
}

var _ port.NotificationSender = (*Client)(nil)

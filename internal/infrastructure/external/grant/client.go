// Package grant submits signed bonus snapshots to the grant authority
package grant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

const (
	defaultIssuer    = "bonus-orchestrator"
	defaultTokenTTL  = 5 * time.Minute
	maxResponseBytes = 64 << 10
)

// Config holds the grant endpoint configuration
type Config struct {
	Endpoint      string
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Timeout       time.Duration
}

// Claims is the JWT body. The bonus id doubles as the token id so the
// authority can deduplicate retried submissions.
type Claims struct {
	jwt.RegisteredClaims
	Bonus *port.GrantSnapshot `json:"bonus"`
}

type submitRequest struct {
	Token string `json:"token"`
}

type errorBody struct {
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

// Client implements port.GrantClient
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new grant client
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("grant signing secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger, now: time.Now}, nil
}

// Sign returns the HS256 token carrying the snapshot
func (c *Client) Sign(snapshot *port.GrantSnapshot) (string, error) {
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   snapshot.ApplicantID,
			ID:        snapshot.BonusID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TokenTTL)),
		},
		Bonus: snapshot,
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.SigningSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign grant snapshot: %w", err)
	}
	return token, nil
}

// Grant submits the snapshot. 2xx grants, 4xx rejects permanently and
// anything else is returned as a transient error.
func (c *Client) Grant(ctx context.Context, snapshot *port.GrantSnapshot) (*port.GrantResult, error) {
	token, err := c.Sign(snapshot)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(submitRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", snapshot.BonusID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grant request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	logger := c.logger.With(zap.String("bonus_id", snapshot.BonusID), zap.Int("status", resp.StatusCode))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logger.Info("Bonus granted")
		return &port.GrantResult{Granted: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := rejectionReason(resp.StatusCode, body)
		logger.Warn("Bonus rejected", zap.String("reason", reason))
		return &port.GrantResult{Granted: false, Reason: reason}, nil
	default:
		return nil, fmt.Errorf("grant authority returned %d", resp.StatusCode)
	}
}

func rejectionReason(status int, body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && (e.Code != "" || e.Message != "") {
		return strings.TrimSpace(strings.Join(nonEmpty(e.Code, e.Message), ": "))
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ port.GrantClient = (*Client)(nil)

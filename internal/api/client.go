package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/marketintel/dashboard-sync/internal/model"
)

// Client fetches dashboard snapshots over request/response.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a snapshot client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// GetDashboard fetches the full dashboard snapshot for a reporting period.
func (c *Client) GetDashboard(ctx context.Context, period string) (model.DashboardPayload, error) {
	query := url.Values{}
	if period != "" {
		query.Set("period", period)
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, "/api/dashboard/market", query)
	if err != nil {
		return model.DashboardPayload{}, err
	}

	var payload model.DashboardPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.DashboardPayload{}, fmt.Errorf("decode dashboard payload: %w", err)
	}
	if !payload.Success {
		return model.DashboardPayload{}, fmt.Errorf("dashboard fetch unsuccessful for period %q", period)
	}

	return payload, nil
}

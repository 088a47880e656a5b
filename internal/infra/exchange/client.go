// Package exchange implements the client for the remote sync endpoint: it
// trades the set of locally seen article identifiers for the identifiers the
// server considers unseen by this client.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/resilience/retry"
)

const maxResponseBytes = 4 << 20 // 4 MiB

// Config holds exchange client settings.
type Config struct {
	// BaseURL is the sync endpoint root, e.g. "https://api.example.com".
	BaseURL string

	// Token is an optional bearer token attached to every request.
	Token string

	// UserAgent identifies this client to the endpoint.
	UserAgent string
}

// Client talks to the remote sync endpoint. Safe for concurrent use,
// although the coordinator's single-flight lock means calls never overlap in
// practice.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      *bearerToken
	logger     *slog.Logger
}

type exchangeRequest struct {
	SeenArticles []string `json:"seen_articles"`
}

type exchangeResponse struct {
	UnseenArticles []string `json:"unseen_articles"`
}

// NewClient creates an exchange client. The HTTP client timeout is a safety
// net; the coordinator applies the real 60-second session ceiling through
// the context.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		token:      newBearerToken(cfg.Token, logger),
		logger:     logger,
	}
}

// ExchangeSeen sends the locally seen identifiers and returns the subset the
// server reports as unseen. A missing "unseen_articles" key is treated as an
// empty set. Errors are classified so a timeout is distinguishable from
// other transport failures.
func (c *Client) ExchangeSeen(ctx context.Context, seen []string) ([]string, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "exchange.seen")
	defer span.End()

	start := time.Now()
	var unseen []string
	err := retry.WithBackoff(ctx, retry.ExchangeConfig(), func() error {
		var attemptErr error
		unseen, attemptErr = c.exchangeOnce(ctx, seen)
		return attemptErr
	})
	metrics.RecordExchangeDuration(time.Since(start))

	if err != nil {
		classified := entity.ClassifyNetworkError(err)
		c.logger.Warn("seen-identifier exchange failed",
			slog.Int("seen", len(seen)),
			slog.Bool("timeout", entity.IsTimeout(classified)),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: exchange: %v", classified, err)
	}

	c.logger.Info("seen-identifier exchange completed",
		slog.Int("seen", len(seen)),
		slog.Int("unseen", len(unseen)),
		slog.Duration("duration", time.Since(start)))
	return unseen, nil
}

func (c *Client) exchangeOnce(ctx context.Context, seen []string) ([]string, error) {
	if seen == nil {
		seen = []string{}
	}
	body, err := json.Marshal(exchangeRequest{SeenArticles: seen})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/sync/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	c.token.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "sync exchange"}
	}

	var decoded exchangeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.UnseenArticles == nil {
		return []string{}, nil
	}
	return decoded.UnseenArticles, nil
}

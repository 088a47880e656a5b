// Package fetcher retrieves and parses single article payloads. Each article
// identifier is a URL naming a JSON document; the fetcher normalizes that
// document into an entity.Article.
package fetcher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/resilience/circuitbreaker"
)

// PayloadClient fetches article payloads over HTTP with a circuit breaker.
// Safe for concurrent use by pipeline workers.
type PayloadClient struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// payload mirrors the remote JSON document. The endpoint has shipped two
// generations of field names; both are accepted, with the tiny_* variants
// taking precedence.
type payload struct {
	TinyTitle   string  `json:"tiny_title"`
	Title       string  `json:"title"`
	TinySummary string  `json:"tiny_summary"`
	Summary     string  `json:"summary"`
	Topic       string  `json:"topic"`
	URL         string  `json:"url"`
	Domain      string  `json:"domain"`
	PublishedAt string  `json:"published_at"`
	Date        string  `json:"date"`
	Quality     float64 `json:"quality"`
	Analysis    string  `json:"analysis"`

	EngineStats     json.RawMessage `json:"engine_stats"`
	SimilarArticles json.RawMessage `json:"similar_articles"`
}

// NewPayloadClient creates a payload fetcher.
func NewPayloadClient(cfg Config, logger *slog.Logger) *PayloadClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		breaker: circuitbreaker.New(circuitbreaker.PayloadFetchConfig()),
		logger:  logger,
	}
}

// FetchArticle retrieves the payload named by identifier and parses it into
// an article. Transport problems surface as ErrNetworkTimeout or
// ErrNetworkFailure; a malformed document or one missing its required fields
// surfaces as ErrParseFailure. The caller decides retry policy; a failed
// fetch is simply retried by a future sync cycle.
func (c *PayloadClient) FetchArticle(ctx context.Context, identifier string) (*entity.Article, error) {
	if _, err := url.ParseRequestURI(identifier); err != nil {
		return nil, fmt.Errorf("%w: identifier is not a URL: %v", entity.ErrParseFailure, err)
	}

	start := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchBody(ctx, identifier)
	})
	if err != nil {
		metrics.RecordPayloadFetch(time.Since(start), false)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", entity.ErrNetworkFailure, err)
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", entity.ClassifyNetworkError(err), identifier, err)
	}

	art, err := parsePayload(identifier, raw.([]byte))
	if err != nil {
		metrics.RecordPayloadFetch(time.Since(start), false)
		return nil, err
	}

	metrics.RecordPayloadFetch(time.Since(start), true)
	return art, nil
}

func (c *PayloadClient) fetchBody(ctx context.Context, identifier string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identifier, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// parsePayload normalizes a raw payload document into an article. Title and
// body are required; their absence is a parse failure, handled the same as a
// malformed document.
func parsePayload(identifier string, raw []byte) (*entity.Article, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", entity.ErrParseFailure, err)
	}

	title := firstNonEmpty(p.TinyTitle, p.Title)
	body := firstNonEmpty(p.TinySummary, p.Summary)
	if title == "" || body == "" {
		return nil, fmt.Errorf("%w: payload missing required title/body fields", entity.ErrParseFailure)
	}

	art := &entity.Article{
		Identifier:      identifier,
		Title:           title,
		Body:            body,
		Topic:           p.Topic,
		SourceURL:       p.URL,
		Domain:          p.Domain,
		PublishedAt:     parseDate(firstNonEmpty(p.PublishedAt, p.Date)),
		QualityScore:    p.Quality,
		Analysis:        p.Analysis,
		EngineStats:     p.EngineStats,
		SimilarArticles: p.SimilarArticles,
	}
	return art, nil
}

// parseDate accepts the date formats the endpoint has been observed to emit.
// An unparseable or absent date yields the zero time rather than an error.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

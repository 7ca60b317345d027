package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mapwatch/backend/internal/domain"
)

const defaultUserAgent = "MapWatch/1.0"

// Options configures the page fetcher.
type Options struct {
	// Timeout bounds each request; a timeout is an error the caller treats
	// as zero results for that target, never fatal.
	Timeout time.Duration
	// RequestsPerSecond throttles fetches so scrape jobs do not overload
	// the target site.
	RequestsPerSecond float64
	// CacheTTL enables a short-lived page cache when positive, so resolver
	// probes and the scrape pass that follows do not fetch the same page
	// twice.
	CacheTTL time.Duration
	UserAgent string
}

// Client is a rate-limited HTTP page fetcher with bounded retries. It
// implements domain.PageFetcher.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	userAgent   string
	cache       *pageCache
	logger      *logrus.Logger
}

// NewClient creates a new page fetcher.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2.0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 5),
		userAgent:   opts.UserAgent,
		logger:      logger,
	}
	if opts.CacheTTL > 0 {
		client.cache = newPageCache(opts.CacheTTL)
	}
	return client
}

// Fetch retrieves a URL and returns the raw body. A 404 maps to
// domain.ErrPageNotFound so probe callers can distinguish a missing page
// from an unreachable site; transient failures are retried with backoff.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.get(url); ok {
			return body, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, retryable, err := c.do(ctx, url)
		if err == nil {
			if c.cache != nil {
				c.cache.set(url, body)
			}
			return body, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{"url": url, "attempt": attempt}).Debug("fetch retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", domain.ErrFetchFailed, url, lastErr)
}

// do performs a single GET. The bool reports whether the failure is worth
// retrying.
func (c *Client) do(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrPageNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("%w: %s: status %d", domain.ErrFetchFailed, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	return body, false, nil
}

// exponentialBackoff returns the wait before the next retry attempt.
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
}

// Package fetcher provides the resilient HTTP client that wraps every
// outbound network call of the pipeline.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/allprecisely/Ad-parser/internal/report"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	maxAttempts      = 3
	defaultDelay     = 1 * time.Second
	defaultRateDelay = 5 * time.Second
	maxBodySize      = 5 * 1024 * 1024
)

// RateLimitedError reports a 429 response carrying a server-specified delay.
// The client retries these after the delay without consuming the retry
// budget; callers only ever see one if the context expires first.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client downloads pages with bounded retry. An exhausted retry budget is
// recorded in the mistake collector and returned as an error, never a panic:
// callers decide whether to skip the item or abort the batch.
type Client struct {
	http     HTTPClient
	mistakes *report.Collector
	log      *slog.Logger
	delay    time.Duration
}

// New creates a Client with the given HTTP client.
func New(httpClient HTTPClient, mistakes *report.Collector, log *slog.Logger) *Client {
	return &Client{
		http:     httpClient,
		mistakes: mistakes,
		log:      log,
		delay:    defaultDelay,
	}
}

// SetRetryDelay overrides the default 1-second inter-attempt delay.
func (c *Client) SetRetryDelay(d time.Duration) {
	c.delay = d
}

// Get downloads url, retrying up to 3 times on transport errors and non-2xx
// statuses. Rate-limit responses are waited out for the server-specified
// interval and retried with a fresh budget, bounded only by ctx.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	for {
		body, err := c.tryGet(ctx, url)
		if err == nil {
			return body, nil
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			c.log.Info("rate limited", "url", url, "retry_after", rl.RetryAfter)
			select {
			case <-time.After(rl.RetryAfter):
				continue
			case <-ctx.Done():
				c.mistakes.Add("fetch %s: %v", url, ctx.Err())
				return nil, ctx.Err()
			}
		}

		c.mistakes.Add("fetch %s: %v", url, err)
		return nil, err
	}
}

// tryGet runs one bounded retry cycle. A 429 aborts the cycle immediately so
// that Get can honor the server delay instead of the fixed one.
func (c *Client) tryGet(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewConstant(c.delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "AdWatchBot/1.0")

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http get: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitedError{RetryAfter: retryAfter(resp)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		body = b
		return nil
	})
	return body, err
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRateDelay
}

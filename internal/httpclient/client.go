// Package httpclient provides the shared rate-limited, retrying HTTP
// transport used by the external service adapters.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crateseek/crateseek/internal/constants"
)

// Client wraps an http.Client with request pacing and automatic retries
// on transient failures. Pacing guarantees a minimum interval between
// requests so no caller saturates a third-party service.
type Client struct {
	httpClient *http.Client

	minRequestInterval time.Duration
	lastRequest        time.Time
	mu                 sync.Mutex
}

// NewClient creates a paced, retrying HTTP client. A nil httpClient gets
// a sensible pooled default.
func NewClient(httpClient *http.Client, minRequestInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	return &Client{
		httpClient:         httpClient,
		minRequestInterval: minRequestInterval,
	}
}

// Do executes the request, waiting for a pacing slot first and retrying
// on network errors or 429/503 responses (honoring Retry-After).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < constants.DefaultRetryCount; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)

			if retryAfter > 0 {
				c.pushBack(retryAfter)
			}
			wait := backoff(attempt)
			if retryAfter > wait {
				wait = retryAfter
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
	return nil, lastErr
}

// Underlying exposes the wrapped *http.Client for callers that need
// unpaced access (streaming bodies, redirects).
func (c *Client) Underlying() *http.Client {
	return c.httpClient
}

// waitTurn claims the next pacing slot, sleeping until it opens.
func (c *Client) waitTurn(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	now := time.Now()
	nextAllowed := c.lastRequest.Add(c.minRequestInterval)
	var wait time.Duration
	if now.Before(nextAllowed) {
		wait = nextAllowed.Sub(now)
		c.lastRequest = nextAllowed
	} else {
		c.lastRequest = now
	}
	c.mu.Unlock()

	if wait > 0 {
		return sleep(ctx, wait)
	}
	return nil
}

// pushBack moves the pacing window forward after a server-requested
// cool-down so parallel callers respect it too.
func (c *Client) pushBack(d time.Duration) {
	c.mu.Lock()
	next := time.Now().Add(d)
	if c.lastRequest.Before(next) {
		c.lastRequest = next
	}
	c.mu.Unlock()
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * constants.DefaultRetryBase
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header and returns the duration to wait.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}

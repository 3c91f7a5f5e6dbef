package spotify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	// maxRetryAfter caps a server-requested wait. Past it the poll fails and
	// the listener's own cadence takes over.
	maxRetryAfter = 10 * time.Second
)

// get issues a GET for endpoint. Transport errors and retryable statuses are
// tried again with exponential backoff, or after the server's Retry-After.
// When attempts run out on a status, the last response is returned so the
// caller reports it like any other.
func (c *Client) get(ctx context.Context, endpoint, url string) (*http.Response, error) {
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}
	backoff := c.baseBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	log := c.log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("endpoint", endpoint))

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("spotify adapter: build %s request: %w", endpoint, err)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			c.metrics.IncSpotifyRequest(endpoint, resp.StatusCode)
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("spotify adapter: %s canceled: %w", endpoint, ctx.Err())
		case err == nil && !retryable(resp.StatusCode):
			return resp, nil
		case attempt >= attempts:
			if err != nil {
				return nil, fmt.Errorf("spotify adapter: %s failed after %d attempts: %w", endpoint, attempts, err)
			}
			return resp, nil
		}

		wait := backoff << (attempt - 1)
		if err != nil {
			log.Warn("spotify request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		} else {
			if ra := parseRetryAfter(resp); ra > 0 {
				wait = min(ra, maxRetryAfter)
			}
			log.Warn("spotify request rejected, retrying",
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", wait),
			)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return nil, fmt.Errorf("spotify adapter: %s canceled: %w", endpoint, err)
		}
	}
}

// retryable lists the statuses a poll is worth repeating for: rate limiting
// and transient upstream failures.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package xclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"accountscout/internal/logging"
	"accountscout/internal/metrics"

	"golang.org/x/time/rate"
)

const (
	// maxRateLimitWait caps the reset-based wait to avoid excessive stalls.
	maxRateLimitWait = 900 * time.Second
	// defaultRateLimitWait applies when the reset header is absent.
	defaultRateLimitWait = 60 * time.Second
)

// ErrRateLimitExceeded is returned when 429 retries are exhausted. The
// operation gives up for this cycle; it is never fatal to the run.
var ErrRateLimitExceeded = errors.New("rate limit retry budget exceeded")

// ErrUserNotFound is returned when a user lookup yields no data object.
var ErrUserNotFound = errors.New("user not found")

// TransportError is a non-429 HTTP or network failure that survived the
// retry budget.
type TransportError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error on %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// newDefaultLimiter creates a steady-state rate limiter using env overrides
// if present. This is in addition to the crawl loop's fixed pacing delays.
func newDefaultLimiter() *rate.Limiter {
	rps := 1.0
	burst := 5
	if v := os.Getenv("X_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("X_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// rateLimitWait computes how long to wait after a 429 from the reset-epoch
// header: max(reset-now, 1s), capped at maxRateLimitWait, defaulting when the
// header is missing or malformed.
func rateLimitWait(resetHeader string, now time.Time) time.Duration {
	if resetHeader == "" {
		return defaultRateLimitWait
	}
	reset, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return defaultRateLimitWait
	}
	wait := time.Duration(reset-now.Unix()) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	return wait
}

// logRateHeaders surfaces the platform's rate budget for observability.
func logRateHeaders(endpoint string, h http.Header) {
	remaining := h.Get("x-rate-limit-remaining")
	limit := h.Get("x-rate-limit-limit")
	reset := h.Get("x-rate-limit-reset")
	if remaining == "" && limit == "" {
		return
	}
	logging.Info("rate_limit_status", map[string]any{
		"endpoint": endpoint, "remaining": remaining, "limit": limit, "reset": reset,
	})
}

// get performs a GET with the full retry discipline: the steady-state limiter
// gates departure, a 429 waits until the advertised reset, and other failures
// back off exponentially. Both failure modes share the bounded attempt budget.
func (c *HTTPClient) get(ctx context.Context, u, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		c.auth(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logging.Warn("request_failed", map[string]any{"endpoint": endpoint, "attempt": attempt, "error": err.Error()})
			metrics.IncAPIRetry(endpoint)
			if serr := c.sleep(ctx, c.baseBackoff*(1<<attempt)); serr != nil {
				return nil, serr
			}
			continue
		}
		logRateHeaders(endpoint, resp.Header)

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := rateLimitWait(resp.Header.Get("x-rate-limit-reset"), c.now())
			_ = resp.Body.Close()
			lastStatus = resp.StatusCode
			logging.Warn("rate_limited", map[string]any{"endpoint": endpoint, "wait_seconds": wait.Seconds(), "attempt": attempt})
			metrics.RateLimitWaits.Inc()
			metrics.IncAPIRetry(endpoint)
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			lastStatus = resp.StatusCode
			lastErr = nil
			logging.Warn("request_error_status", map[string]any{"endpoint": endpoint, "status": resp.StatusCode, "attempt": attempt})
			metrics.IncAPIRetry(endpoint)
			if serr := c.sleep(ctx, c.baseBackoff*(1<<attempt)); serr != nil {
				return nil, serr
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	if lastStatus == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrRateLimitExceeded)
	}
	return nil, &TransportError{Endpoint: endpoint, Status: lastStatus, Err: lastErr}
}

package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds how hard a single upstream call is retried.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	BaseBackoff time.Duration // initial backoff (default: 100ms)
}

// Attempt performs one HTTP round trip. It must build a fresh request each time.
type Attempt func(ctx context.Context) (*http.Response, error)

// Do runs attempt up to MaxRetries+1 times.
//   - Retries only on transient network errors, 408, 429 and 5xx statuses.
//   - Respects Retry-After headers.
//   - Uses exponential backoff with full jitter.
//   - Respects ctx (deadline / cancellation).
//
// A non-retryable response (2xx, 3xx, most 4xx) is returned as is; the caller
// owns its body.
func Do(ctx context.Context, logger *zap.Logger, policy RetryPolicy, attempt Attempt) (*http.Response, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := attempt(ctx)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		logger.Debug("upstream request",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		var retryAfter time.Duration
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if !isTransientNetError(err) {
				return nil, err
			}
			lastErr = err

		case !shouldRetryStatus(status):
			return resp, nil

		default:
			lastErr = fmt.Errorf("upstream status %d", status)
			retryAfter = parseRetryAfter(resp)
			// close before retrying so the connection can be reused
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
		}

		if i == maxAttempts-1 {
			break
		}

		wait := retryAfter
		if wait <= 0 {
			wait = computeBackoff(policy.BaseBackoff, i)
		}
		logger.Debug("backing off before retry",
			zap.Duration("backoff", wait),
			zap.Int("next_attempt", i+2),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	logger.Warn("upstream request exhausted all retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)

	if lastErr == nil {
		lastErr = errors.New("unknown upstream error")
	}
	return nil, fmt.Errorf("upstream: max attempts (%d) exceeded: %w", maxAttempts, lastErr)
}

// isTransientNetError reports whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// wrapped errors sometimes only survive as text
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// shouldRetryStatus reports whether status indicates a retryable failure.
func shouldRetryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date, capped at 30s. Returns 0 when absent or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	const maxRetryAfter = 30 * time.Second

	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}

	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}

	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// computeBackoff returns a random duration in [0, base*2^attempt), capped at 10s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))

	const maxAllowed = 10 * time.Second
	if ceiling > maxAllowed {
		ceiling = maxAllowed
	}

	return time.Duration(rand.Float64() * float64(ceiling))
}

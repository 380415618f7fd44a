package transport

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"time"
)

// RetryConfig controls retry behavior for transient failures.
// 429 and 402 are never retried by default: the fetch client's breaker owns them.
type RetryConfig struct {
	MaxRetries        int           // Max retry attempts (default: 2)
	InitialBackoff    time.Duration // Initial backoff (default: 250ms)
	MaxBackoff        time.Duration // Max backoff cap (default: 4s)
	BackoffFactor     float64       // Multiplier per retry (default: 2.0)
	JitterFraction    float64       // Random jitter as fraction of backoff (default: 0.1)
	RetryableStatuses []int         // HTTP codes to retry (default: 502, 503, 504)
}

// DefaultRetryConfig returns the retry defaults for completion requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        4 * time.Second,
		BackoffFactor:     2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{502, 503, 504},
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	b := float64(c.InitialBackoff) * math.Pow(factor, float64(attempt-1))
	if c.MaxBackoff > 0 && b > float64(c.MaxBackoff) {
		b = float64(c.MaxBackoff)
	}
	return time.Duration(b + b*c.JitterFraction*rand.Float64())
}

// doWithRetry executes makeRequest, retrying retryable statuses and network
// errors. After the last attempt the final response is returned unchanged so
// the caller can classify it.
func doWithRetry(ctx context.Context, config RetryConfig, logger *slog.Logger, makeRequest func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var wait time.Duration

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := makeRequest(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrNotSent) {
				return nil, err
			}
			if attempt >= config.MaxRetries {
				return nil, err
			}
			wait = config.backoff(attempt + 1)
			logger.Debug("retrying request", "attempt", attempt+1, "error", err, "backoff", wait)
			continue
		}

		if resp.StatusCode == http.StatusOK ||
			!slices.Contains(config.RetryableStatuses, resp.StatusCode) ||
			attempt >= config.MaxRetries {
			return resp, nil
		}

		wait = max(config.backoff(attempt+1), parseRetryAfter(resp.Header.Get("Retry-After")))
		if config.MaxBackoff > 0 {
			wait = min(wait, config.MaxBackoff)
		}
		logger.Debug("retrying request", "attempt", attempt+1, "status", resp.StatusCode, "backoff", wait)
		resp.Body.Close()
	}
}

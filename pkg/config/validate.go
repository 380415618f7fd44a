package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks all fields in the config and returns all errors at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Endpoint == "" {
		errs = append(errs, "endpoint: required")
	} else if u, err := url.Parse(cfg.Endpoint); err != nil || !u.IsAbs() || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("endpoint: must be an absolute http(s) URL, got %q", cfg.Endpoint))
	}

	if cfg.ProxyURL != "" {
		if u, err := url.Parse(cfg.ProxyURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("proxy_url: invalid URL %q", cfg.ProxyURL))
		}
	}

	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("timeout: must be non-negative, got %s", cfg.Timeout))
	}
	if cfg.RateLimitCooldown < 0 {
		errs = append(errs, fmt.Sprintf("rate_limit_cooldown: must be non-negative, got %s", cfg.RateLimitCooldown))
	}
	if cfg.Retry.InitialBackoff < 0 || cfg.Retry.MaxBackoff < 0 {
		errs = append(errs, "retry: backoff durations must be non-negative")
	}
	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("retry.max_retries: must be non-negative, got %d", cfg.Retry.MaxRetries))
	}
	for _, code := range cfg.Retry.RetryableStatuses {
		if code == 429 || code == 402 {
			errs = append(errs, fmt.Sprintf("retry.retryable_statuses: %d is handled by the circuit breaker and cannot be retried", code))
		}
	}

	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("requests_per_second: must be non-negative, got %g", cfg.RequestsPerSecond))
	}
	if cfg.Burst < 0 {
		errs = append(errs, fmt.Sprintf("burst: must be non-negative, got %d", cfg.Burst))
	}

	if cfg.Sampling.N < 1 {
		errs = append(errs, fmt.Sprintf("sampling.n: must be at least 1, got %d", cfg.Sampling.N))
	}
	if cfg.Sampling.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("sampling.max_tokens: must be non-negative, got %d", cfg.Sampling.MaxTokens))
	}
	if cfg.Sampling.TopP < 0 || cfg.Sampling.TopP > 1 {
		errs = append(errs, fmt.Sprintf("sampling.top_p: must be between 0.0 and 1.0, got %g", cfg.Sampling.TopP))
	}

	for i, rule := range cfg.Languages {
		if rule.ID == "" {
			errs = append(errs, fmt.Sprintf("languages[%d]: id required", i))
		}
		if !doublestar.ValidatePattern(rule.Pattern) {
			errs = append(errs, fmt.Sprintf("languages[%d]: invalid pattern %q", i, rule.Pattern))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Package config loads ghostline configuration from a YAML file with
// environment variable overrides.
package config

import (
	"time"

	"github.com/jg-phare/ghostline/pkg/transport"
	"github.com/jg-phare/ghostline/pkg/types"
)

// Config is the full client configuration.
type Config struct {
	Endpoint          string            `yaml:"endpoint"`
	TokenFile         string            `yaml:"token_file"`
	Token             string            `yaml:"-"` // GHOSTLINE_TOKEN only; never written to disk
	Model             string            `yaml:"model,omitempty"`
	Timeout           time.Duration     `yaml:"timeout"`
	RateLimitCooldown time.Duration     `yaml:"rate_limit_cooldown"`
	DropFinishReasons []string          `yaml:"drop_finish_reasons,omitempty"`
	ProviderHeader    string            `yaml:"provider_header"`
	Headers           map[string]string `yaml:"headers,omitempty"`
	ProxyURL          string            `yaml:"proxy_url,omitempty"`
	RequestsPerSecond float64           `yaml:"requests_per_second,omitempty"`
	Burst             int               `yaml:"burst,omitempty"`
	Retry             Retry             `yaml:"retry"`
	Sampling          Sampling          `yaml:"sampling"`
	Languages         []LanguageRule    `yaml:"languages,omitempty"`
}

// Retry mirrors transport.RetryConfig in YAML form.
type Retry struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	JitterFraction    float64       `yaml:"jitter_fraction"`
	RetryableStatuses []int         `yaml:"retryable_statuses,flow"`
}

// Sampling holds the default sampling parameters for requests.
type Sampling struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	TopP        float64  `yaml:"top_p"`
	N           int      `yaml:"n"`
	Stop        []string `yaml:"stop,omitempty"`
}

// LanguageRule maps a doublestar glob to a language id. First match wins.
type LanguageRule struct {
	Pattern string `yaml:"pattern"`
	ID      string `yaml:"id"`
}

// Default returns the built-in configuration.
func Default() Config {
	r := transport.DefaultRetryConfig()
	s := types.DefaultSampling()
	return Config{
		Timeout:           30 * time.Second,
		RateLimitCooldown: 10 * time.Second,
		ProviderHeader:    "X-Request-Id",
		Retry: Retry{
			MaxRetries:        r.MaxRetries,
			InitialBackoff:    r.InitialBackoff,
			MaxBackoff:        r.MaxBackoff,
			BackoffFactor:     r.BackoffFactor,
			JitterFraction:    r.JitterFraction,
			RetryableStatuses: r.RetryableStatuses,
		},
		Sampling: Sampling{
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
			TopP:        s.TopP,
			N:           s.N,
			Stop:        s.Stop,
		},
		Languages: defaultLanguages(),
	}
}

// RetryConfig converts the retry section for the transport.
func (c Config) RetryConfig() transport.RetryConfig {
	return transport.RetryConfig{
		MaxRetries:        c.Retry.MaxRetries,
		InitialBackoff:    c.Retry.InitialBackoff,
		MaxBackoff:        c.Retry.MaxBackoff,
		BackoffFactor:     c.Retry.BackoffFactor,
		JitterFraction:    c.Retry.JitterFraction,
		RetryableStatuses: c.Retry.RetryableStatuses,
	}
}

// TypesSampling converts the sampling section to request parameters.
func (c Config) TypesSampling() types.Sampling {
	return types.Sampling{
		MaxTokens:   c.Sampling.MaxTokens,
		Temperature: c.Sampling.Temperature,
		TopP:        c.Sampling.TopP,
		N:           c.Sampling.N,
		Stop:        append([]string(nil), c.Sampling.Stop...),
	}
}

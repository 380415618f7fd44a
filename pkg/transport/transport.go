// Package transport sends completion requests over HTTP with a streaming
// response body. It has no knowledge of the completion protocol beyond
// request headers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// maxTextBody caps how much of a non-200 body Text reads.
const maxTextBody = 64 * 1024

// Config holds Transport Client configuration.
type Config struct {
	HTTPClient        *http.Client  // Custom client; Timeout/ProxyURL are ignored when set
	Timeout           time.Duration // Response header timeout (the body may stream longer)
	ProxyURL          string        // Overrides HTTP(S)_PROXY from the environment
	RequestsPerSecond float64       // Outbound rate limit; 0 = unlimited
	Burst             int           // Limiter burst (default 1)
	Retry             RetryConfig
	UserAgent         string
	Logger            *slog.Logger
}

// Request is one outbound completion request.
type Request struct {
	URL     string
	Token   string            // Bearer token; empty sends no Authorization header
	Body    any               // Marshaled as JSON
	Headers map[string]string // Extra headers, applied last
}

// Response is an HTTP response whose body may still be streaming.
type Response struct {
	*http.Response
}

// Raw reads the remaining body verbatim and closes it. On error the bytes
// read so far are returned with it.
func (r *Response) Raw() (string, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, maxTextBody))
	if err != nil {
		return string(b), fmt.Errorf("transport: read body: %w", err)
	}
	return string(b), nil
}

// Client is the Transport Client. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	retry     RetryConfig
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
}

// New creates a Transport Client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		proxy, err := proxyFunc(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = proxy
		tr.ResponseHeaderTimeout = cfg.Timeout
		hc = &http.Client{Transport: tr}
	}

	c := &Client{
		http:      hc,
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Send issues req with a streaming response body.
//
// It returns ErrNotSent if ctx is cancelled before the request reaches the
// wire, and an *AbortError if ctx is cancelled afterwards. Any other
// network failure is returned wrapped. Statuses other than 200 are returned
// as a Response for the caller to classify.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, ErrNotSent
	}

	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	var wrote atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteHeaders: func() { wrote.Store(true) },
	})

	resp, err := doWithRetry(ctx, c.retry, c.logger, func(ctx context.Context) (*http.Response, error) {
		wrote.Store(false)
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ErrNotSent
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if req.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+req.Token)
		}
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		return c.http.Do(httpReq)
	})
	if err != nil {
		if errors.Is(err, ErrNotSent) {
			return nil, ErrNotSent
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !wrote.Load() {
				return nil, ErrNotSent
			}
			return nil, &AbortError{Err: ctxErr}
		}
		return nil, fmt.Errorf("transport: send: %w", err)
	}
	return &Response{Response: resp}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrNotSent, err)
	}
	return nil
}

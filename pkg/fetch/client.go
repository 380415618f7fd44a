// Package fetch turns a completion request into a Completion Outcome. It
// owns the circuit breaker that disables completions during known-bad
// windows and maps HTTP statuses to outcomes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jg-phare/ghostline/pkg/auth"
	"github.com/jg-phare/ghostline/pkg/llm"
	"github.com/jg-phare/ghostline/pkg/transport"
	"github.com/jg-phare/ghostline/pkg/types"
)

const (
	defaultCooldown       = 10 * time.Second
	defaultProviderHeader = "X-Request-Id"
	processingTimeHeader  = "openai-processing-ms"
)

// Sender sends one request with a streaming response body.
// *transport.Client implements it.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Config configures a Client.
type Config struct {
	Endpoint          string
	Model             string // Sent in the body when non-empty
	Transport         Sender
	Tokens            auth.Source
	DropFinishReasons []string
	RateLimitCooldown time.Duration     // Breaker window after a 429 (default 10s)
	ProviderHeader    string            // Request id header (default X-Request-Id)
	Headers           map[string]string // Sent with every request
	PostProcess       []PostProcessor
	Logger            *slog.Logger
}

// Client is the Completion Fetch Client. It is safe for concurrent use; the
// breaker is shared by every Fetch on the same Client.
type Client struct {
	cfg     Config
	breaker *Breaker
	logger  *slog.Logger

	unsubscribe func()
}

// NewClient creates a Client. If cfg.Tokens implements auth.Notifier, a
// token refresh clears the breaker.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("fetch: endpoint required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("fetch: transport required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("fetch: token source required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = defaultCooldown
	}
	if cfg.ProviderHeader == "" {
		cfg.ProviderHeader = defaultProviderHeader
	}

	c := &Client{
		cfg:     cfg,
		breaker: NewBreaker(cfg.Logger),
		logger:  cfg.Logger,
	}
	if n, ok := cfg.Tokens.(auth.Notifier); ok {
		c.unsubscribe = n.OnRefresh(c.TokenRefreshed)
	}
	return c, nil
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// TokenRefreshed signals that a new token is available, which may restore
// quota. It clears the breaker.
func (c *Client) TokenRefreshed() {
	c.breaker.Clear()
}

// Close detaches the client from its token source and stops breaker timers.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.breaker.Close()
	return nil
}

// Fetch sends req and returns the outcome. The error is non-nil only for
// genuine transport or credential failures. On Success the caller must
// drain or Close the candidates; cancelling ctx tears the stream down.
func (c *Client) Fetch(ctx context.Context, req types.CompletionRequest, oracle llm.Oracle) (Outcome, error) {
	if reason, engaged := c.breaker.Reason(); engaged {
		return &Canceled{Reason: reason}, nil
	}
	if req.ID == "" {
		req.ID = types.NewRequestID()
	}

	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return &Canceled{Reason: ReasonBeforeFetch}, nil
		}
		return nil, fmt.Errorf("fetch: token: %w", err)
	}

	headers := make(map[string]string, len(c.cfg.Headers)+len(req.Headers)+1)
	for k, v := range c.cfg.Headers {
		headers[k] = v
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[c.cfg.ProviderHeader] = req.ID

	resp, err := c.cfg.Transport.Send(ctx, transport.Request{
		URL:     c.cfg.Endpoint,
		Token:   token,
		Body:    llm.BuildRequestBody(req, c.cfg.Model),
		Headers: headers,
	})
	var abort *transport.AbortError
	switch {
	case errors.Is(err, transport.ErrNotSent):
		return &Canceled{Reason: ReasonBeforeFetch}, nil
	case errors.As(err, &abort):
		return &Canceled{Reason: ReasonAfterFetch}, nil
	case err != nil:
		return nil, fmt.Errorf("fetch: %w", err)
	}

	if ctx.Err() != nil {
		resp.Body.Close()
		return &Canceled{Reason: ReasonAfterFetch}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return c.classify(ctx, resp), nil
	}

	reqID := types.RequestID{ClientID: req.ID, ServerID: resp.Header.Get(c.cfg.ProviderHeader)}
	if reqID.ServerID != "" && reqID.ServerID != reqID.ClientID {
		c.logger.Debug("server overrode request id", "client_id", reqID.ClientID, "server_id", reqID.ServerID)
	}

	stream := llm.NewStream(ctx, resp.Body, llm.StreamConfig{
		Expected:    req.Candidates(),
		Oracle:      oracle,
		DropReasons: c.cfg.DropFinishReasons,
		RequestID:   reqID,
		Logger:      c.logger,
	})
	return &Success{
		Candidates: newCandidates(stream, c.cfg.PostProcess),
		RequestID:  reqID,
		Header:     resp.Header,
		processing: resp.Header.Get(processingTimeHeader),
	}, nil
}

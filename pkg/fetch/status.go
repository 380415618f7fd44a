package fetch

import (
	"context"
	"net/http"
	"strings"

	"github.com/jg-phare/ghostline/pkg/transport"
)

// statusClientNotSupported is returned when the server refuses this client version.
const statusClientNotSupported = 466

// statusClientClosed is the server's "client closed request" status.
const statusClientClosed = 499

// classify maps a non-200 response to an outcome and applies its side
// effects. The body is read and closed. Cancellation during the read yields
// Canceled and applies no side effects.
func (c *Client) classify(ctx context.Context, resp *transport.Response) Outcome {
	code := resp.StatusCode
	raw, err := resp.Raw()
	if ctx.Err() != nil {
		return &Canceled{Reason: ReasonAfterFetch}
	}
	if err != nil {
		c.logger.Debug("reading error body", "status", code, "error", err)
	}
	text := strings.TrimSpace(raw)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		c.cfg.Tokens.Reset()
		return failedf(code, "token expired or invalid: %d", code)

	case code == http.StatusPaymentRequired:
		c.breaker.Engage(ReasonQuotaExhausted)
		return failedf(code, "%s", ReasonQuotaExhausted)

	case code == http.StatusTooManyRequests:
		c.breaker.EngageFor(ReasonRateLimited, c.cfg.RateLimitCooldown)
		return failedf(code, "%s", ReasonRateLimited)

	case code == statusClientNotSupported:
		return failedf(code, "client not supported: %s", raw)

	case code == statusClientClosed:
		return failedf(code, "%s", ReasonCanceledByServer)

	case code >= 400 && code < 500 && resp.Header.Get(c.cfg.ProviderHeader) == "":
		c.logger.Warn("unhandled status without provider header, possible intercepting proxy",
			"status", code, "header", c.cfg.ProviderHeader)
		f := failedf(code, "unhandled status from server: %d %s", code, text)
		f.ProxySuspected = true
		return f

	default:
		return failedf(code, "unhandled status from server: %d %s", code, text)
	}
}

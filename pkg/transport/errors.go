package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotSent is returned when the request was cancelled before it reached the wire.
	ErrNotSent = errors.New("transport: request not sent")

	// ErrStreamClosed is returned when writing to an EventWriter after Done.
	ErrStreamClosed = errors.New("transport: event stream closed")
)

// AbortError reports cancellation after the request was written.
type AbortError struct {
	Err error // The context error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transport: request aborted: %v", e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// parseRetryAfter parses the Retry-After header value.
// Supports both seconds (integer) and HTTP-date formats.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}


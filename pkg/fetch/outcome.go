package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jg-phare/ghostline/pkg/types"
)

// Reasons reported in Failed and Canceled outcomes.
const (
	ReasonBeforeFetch      = "before fetch request"
	ReasonAfterFetch       = "after fetch request"
	ReasonQuotaExhausted   = "monthly free code completions exhausted"
	ReasonRateLimited      = "rate limited"
	ReasonCanceledByServer = "canceled by server"
)

// Outcome is the result of one Fetch: *Success, *Failed or *Canceled.
type Outcome interface {
	outcome()
	String() string
}

// Success carries the lazy candidate sequence of a 200 response.
type Success struct {
	Candidates *Candidates
	RequestID  types.RequestID
	Header     http.Header // Response headers

	processing string
}

func (*Success) outcome() {}

func (s *Success) String() string {
	return "success " + s.RequestID.ID()
}

// ProcessingTime returns the server-reported processing time, if any.
func (s *Success) ProcessingTime() (time.Duration, bool) {
	if s.processing == "" {
		return 0, false
	}
	ms, err := strconv.ParseFloat(s.processing, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// Failed is a terminal, user-visible problem.
type Failed struct {
	Reason     string
	StatusCode int
	// ProxySuspected is set for 4xx responses that lack the provider's
	// request id header, which usually means an intercepting proxy answered.
	ProxySuspected bool
}

func (*Failed) outcome() {}

func (f *Failed) String() string {
	return "failed: " + f.Reason
}

// Canceled means the caller or the breaker chose not to proceed.
type Canceled struct {
	Reason string
}

func (*Canceled) outcome() {}

func (c *Canceled) String() string {
	return "canceled: " + c.Reason
}

func failedf(status int, format string, args ...any) *Failed {
	return &Failed{Reason: fmt.Sprintf(format, args...), StatusCode: status}
}

package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jg-phare/ghostline/pkg/types"
)

// OutOfBandIndex is the choice index passed to the oracle for top-level signals.
const OutOfBandIndex = -1

// Update describes the event that triggered an oracle call.
type Update struct {
	Index        int    // Choice index, or OutOfBandIndex
	Text         string // Text appended by this event
	FinishReason string // Server finish reason, "" while open
	Finished     bool   // Stream has ended; this is the last call for Index

	// Merged state of the choice so far.
	Annotations  types.Annotations
	ToolCalls    []types.ToolCall
	FunctionCall *types.ToolCall

	// Out-of-band payloads, set only when Index == OutOfBandIndex.
	References   []json.RawMessage
	Confirmation json.RawMessage
	Errors       []json.RawMessage
	Error        *ErrorBody
}

// Decision is the oracle's verdict for one candidate.
type Decision struct {
	Yield    bool // Emit a Finished Completion now
	Continue bool // Keep accepting data for this choice after yielding
	Offset   *int // Truncate the emitted text at this byte offset
}

// FinishAt is shorthand for "finished; truncate at offset k".
func FinishAt(k int) *Decision {
	return &Decision{Yield: true, Continue: false, Offset: &k}
}

// Oracle decides whether a candidate's current block is complete.
//
// Decide is called with the full accumulated text of a choice whenever an
// event adds a newline or a finish reason, and once more with Finished set
// when the stream ends. A nil Decision means "keep streaming". Calls for one
// choice index are strictly sequential in event order, and a Stream never
// calls Decide concurrently. Decide may block; it should honor ctx.
type Oracle interface {
	Decide(ctx context.Context, text string, u Update) (*Decision, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, text string, u Update) (*Decision, error)

// Decide calls f.
func (f OracleFunc) Decide(ctx context.Context, text string, u Update) (*Decision, error) {
	return f(ctx, text, u)
}

// NoOracle never finishes a candidate early; candidates close only on a server
// finish reason or at stream end.
var NoOracle Oracle = OracleFunc(func(context.Context, string, Update) (*Decision, error) {
	return nil, nil
})

// LineOracle finishes a candidate once it holds n complete lines, truncating
// before the nth newline. n < 1 behaves like NoOracle.
func LineOracle(n int) Oracle {
	return OracleFunc(func(_ context.Context, text string, u Update) (*Decision, error) {
		if n < 1 || u.Index == OutOfBandIndex {
			return nil, nil
		}
		off := 0
		for i := 0; i < n; i++ {
			j := strings.IndexByte(text[off:], '\n')
			if j < 0 {
				return nil, nil
			}
			if i == n-1 {
				return FinishAt(off + j), nil
			}
			off += j + 1
		}
		return nil, nil
	})
}

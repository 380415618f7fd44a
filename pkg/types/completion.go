package types

import "unicode/utf8"

// Finish reasons assigned by the client rather than the server.
const (
	FinishReasonIterationDone = "iteration done" // Force-closed at stream end
	FinishReasonClientTrimmed = "client-trimmed" // Closed by the block oracle
)

// FinishedCompletion is an immutable snapshot of one closed candidate.
// It is created once, emitted once, and never mutated afterwards.
type FinishedCompletion struct {
	Index        int          // Choice index within the response
	Text         string       // Accumulated text, before truncation
	FinishOffset *int         // Byte offset supplied by the block oracle, if any
	FinishReason string       // Server reason, or one of the client reasons above
	RequestID    RequestID    // Client/server correlation ids
	Model        string       // Model reported by the server
	Usage        *Usage       // Token usage, if reported before emission
	LogProbs     *LogProbs    // Per-token log-probabilities, if requested
	Annotations  Annotations  // Merged annotation table
	ToolCalls    []ToolCall   // Merged tool calls
	FunctionCall *ToolCall    // Merged legacy function_call, if any
}

// Finished reports whether the block oracle truncated this candidate.
func (c *FinishedCompletion) Finished() bool {
	return c.FinishOffset != nil
}

// Completion returns the text after applying the oracle's truncation offset.
// An offset inside a multi-byte rune is moved back to the rune's start.
func (c *FinishedCompletion) Completion() string {
	if c.FinishOffset == nil {
		return c.Text
	}
	k := *c.FinishOffset
	if k < 0 {
		k = 0
	}
	if k > len(c.Text) {
		k = len(c.Text)
	}
	// Never split a multi-byte rune.
	for k > 0 && k < len(c.Text) && !utf8.RuneStart(c.Text[k]) {
		k--
	}
	return c.Text[:k]
}

package llm

import (
	"encoding/json"

	"github.com/jg-phare/ghostline/pkg/types"
)

// CompletionBody maps to the /completions request body.
type CompletionBody struct {
	Prompt      string             `json:"prompt"`
	Suffix      string             `json:"suffix"`
	Stream      bool               `json:"stream"`
	MaxTokens   int                `json:"max_tokens"`
	N           int                `json:"n"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	Stop        []string           `json:"stop,omitempty"`
	LogProbs    *int               `json:"logprobs,omitempty"`
	LogitBias   map[string]float64 `json:"logit_bias,omitempty"`
	Model       string             `json:"model,omitempty"`

	// Provider-specific bag; opaque to the decoder.
	Extra map[string]any `json:"extra,omitempty"`
}

// StreamChunk is a single SSE event payload.
// It decodes field-by-field: a field with an unexpected shape keeps its zero
// value instead of failing the whole chunk. See wire_decode.go.
type StreamChunk struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// Out-of-band signals, routed to the oracle independent of choice state.
	References   []json.RawMessage `json:"copilot_references,omitempty"`
	Confirmation json.RawMessage   `json:"copilot_confirmation,omitempty"`
	Errors       []json.RawMessage `json:"copilot_errors,omitempty"`
	Error        *ErrorBody        `json:"error,omitempty"`
}

// HasOutOfBand reports whether the chunk carries any top-level signal.
func (c *StreamChunk) HasOutOfBand() bool {
	return len(c.References) > 0 || len(c.Confirmation) > 0 || len(c.Errors) > 0 || c.Error != nil
}

// ErrorBody is a partial error object embedded in a stream event.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Choice represents one candidate's slice of a streaming chunk.
// Completions-style payloads use Text; chat-style payloads use Delta.
type Choice struct {
	Index        int       `json:"index"`
	Text         *string   `json:"text,omitempty"`
	Delta        *Delta    `json:"delta,omitempty"`
	FinishReason *string   `json:"finish_reason"` // null until terminal
	LogProbs     *LogProbs `json:"logprobs,omitempty"`
}

// Content returns the text fragment carried by the choice, if any.
func (c *Choice) Content() string {
	if c.Text != nil {
		return *c.Text
	}
	if c.Delta != nil && c.Delta.Content != nil {
		return *c.Delta.Content
	}
	return ""
}

// Delta is the incremental content in a chat-style chunk.
type Delta struct {
	Role         string            `json:"role,omitempty"`
	Content      *string           `json:"content,omitempty"` // nil vs "" matters
	FunctionCall *ToolCall         `json:"function_call,omitempty"`
	ToolCalls    []ToolCall        `json:"tool_calls,omitempty"`
	Annotations  types.Annotations `json:"copilot_annotations,omitempty"`
}

// ToolCall is a (possibly partial) tool or function call fragment.
type ToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`

	// Legacy function_call deltas carry name/arguments at the top level.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// FunctionCall holds the function name and an argument fragment.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// LogProbs is the completions-format log-probability fragment.
type LogProbs struct {
	Tokens        []string             `json:"tokens"`
	TokenLogProbs []float64            `json:"token_logprobs"`
	TopLogProbs   []map[string]float64 `json:"top_logprobs"`
	TextOffset    []int                `json:"text_offset"`
}

// Usage from the final streaming chunk.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

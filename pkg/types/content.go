package types

import "slices"

// Annotation is one server-side annotation on a candidate, unique by
// (namespace, ID) within a choice.
type Annotation struct {
	ID          int            `json:"id"`
	StartOffset int            `json:"start_offset"`
	StopOffset  int            `json:"stop_offset"`
	Details     map[string]any `json:"details,omitempty"`
	Citations   map[string]any `json:"citations,omitempty"`
}

// Annotations maps a namespace (e.g. "CodeVulnerability") to its ordered annotations.
type Annotations map[string][]Annotation

// Clone returns a copy that shares no slices with a.
func (a Annotations) Clone() Annotations {
	if a == nil {
		return nil
	}
	out := make(Annotations, len(a))
	for ns, list := range a {
		out[ns] = slices.Clone(list)
	}
	return out
}

// FunctionCall holds the function name and the (possibly fragmented) argument text.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // "function"
	Function FunctionCall `json:"function"`
}

// LogProbs holds the per-token log-probability data for one candidate.
// The slices are parallel: element i describes token i.
type LogProbs struct {
	Tokens        []string             `json:"tokens"`
	TokenLogProbs []float64            `json:"token_logprobs"`
	TopLogProbs   []map[string]float64 `json:"top_logprobs,omitempty"`
	TextOffset    []int                `json:"text_offset,omitempty"`
}

// Append concatenates the arrays of other onto l.
func (l *LogProbs) Append(other LogProbs) {
	l.Tokens = append(l.Tokens, other.Tokens...)
	l.TokenLogProbs = append(l.TokenLogProbs, other.TokenLogProbs...)
	l.TopLogProbs = append(l.TopLogProbs, other.TopLogProbs...)
	l.TextOffset = append(l.TextOffset, other.TextOffset...)
}

// Clone returns a deep copy of l.
func (l *LogProbs) Clone() *LogProbs {
	if l == nil {
		return nil
	}
	return &LogProbs{
		Tokens:        slices.Clone(l.Tokens),
		TokenLogProbs: slices.Clone(l.TokenLogProbs),
		TopLogProbs:   slices.Clone(l.TopLogProbs),
		TextOffset:    slices.Clone(l.TextOffset),
	}
}

// Usage reports token counts when the server includes them.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

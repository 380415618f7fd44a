package llm

import (
	"strings"

	"github.com/jg-phare/ghostline/pkg/types"
)

// ToolCallAccumulator collects incremental tool call fragments into complete calls.
// A new call starts when none is open or when a fragment carries an id that
// differs from the current call's id. Otherwise the name (if present)
// overwrites and argument text is appended.
type ToolCallAccumulator struct {
	calls []types.ToolCall
}

// NewToolCallAccumulator creates a new accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{}
}

// AddDelta merges an incremental tool call fragment.
func (a *ToolCallAccumulator) AddDelta(delta ToolCall) {
	name, args := delta.Function.Name, delta.Function.Arguments
	if name == "" {
		name = delta.Name
	}
	if args == "" {
		args = delta.Arguments
	}

	n := len(a.calls)
	if n == 0 || (delta.ID != "" && delta.ID != a.calls[n-1].ID) {
		a.calls = append(a.calls, types.ToolCall{ID: delta.ID, Type: delta.Type})
		n++
	}
	cur := &a.calls[n-1]
	if delta.Type != "" {
		cur.Type = delta.Type
	}
	if name != "" {
		cur.Function.Name = name
	}
	cur.Function.Arguments += args
}

// Len returns the number of calls started so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Complete returns a copy of all accumulated calls in arrival order.
func (a *ToolCallAccumulator) Complete() []types.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	return append([]types.ToolCall(nil), a.calls...)
}

// AnnotationTable merges annotation updates by (namespace, id).
// Applying the same update twice leaves one entry with the latest fields.
type AnnotationTable struct {
	byNS types.Annotations
}

// NewAnnotationTable creates an empty table.
func NewAnnotationTable() *AnnotationTable {
	return &AnnotationTable{byNS: types.Annotations{}}
}

// Merge replaces the annotation with the same id in namespace, or appends it.
func (t *AnnotationTable) Merge(namespace string, a types.Annotation) {
	list := t.byNS[namespace]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return
		}
	}
	t.byNS[namespace] = append(list, a)
}

// MergeAll merges every annotation in update.
func (t *AnnotationTable) MergeAll(update types.Annotations) {
	for ns, list := range update {
		for _, a := range list {
			t.Merge(ns, a)
		}
	}
}

// Len returns the number of annotations across all namespaces.
func (t *AnnotationTable) Len() int {
	n := 0
	for _, list := range t.byNS {
		n += len(list)
	}
	return n
}

// Snapshot returns a deep copy, or nil when the table is empty.
func (t *AnnotationTable) Snapshot() types.Annotations {
	if t.Len() == 0 {
		return nil
	}
	return t.byNS.Clone()
}

// ChoiceAccumulator is the mutable per-index state of one candidate.
// It is owned by a single Stream and never shared.
type ChoiceAccumulator struct {
	Index int

	text         strings.Builder
	logprobs     *types.LogProbs
	annotations  *AnnotationTable
	tools        *ToolCallAccumulator
	function     *ToolCallAccumulator
	finishReason string
	yielded      bool
}

// NewChoiceAccumulator creates the accumulator for choice index.
func NewChoiceAccumulator(index int) *ChoiceAccumulator {
	return &ChoiceAccumulator{
		Index:       index,
		annotations: NewAnnotationTable(),
		tools:       NewToolCallAccumulator(),
		function:    NewToolCallAccumulator(),
	}
}

// Append merges one choice fragment and returns the text it added.
func (a *ChoiceAccumulator) Append(ch *Choice) string {
	text := ch.Content()
	a.text.WriteString(text)

	if lp := ch.LogProbs; lp != nil {
		if a.logprobs == nil {
			a.logprobs = &types.LogProbs{}
		}
		a.logprobs.Append(types.LogProbs{
			Tokens:        lp.Tokens,
			TokenLogProbs: lp.TokenLogProbs,
			TopLogProbs:   lp.TopLogProbs,
			TextOffset:    lp.TextOffset,
		})
	}

	if d := ch.Delta; d != nil {
		a.annotations.MergeAll(d.Annotations)
		for _, tc := range d.ToolCalls {
			a.tools.AddDelta(tc)
		}
		if d.FunctionCall != nil {
			a.function.AddDelta(*d.FunctionCall)
		}
	}

	if ch.FinishReason != nil && *ch.FinishReason != "" {
		a.finishReason = *ch.FinishReason
	}
	return text
}

// Text returns the full text accumulated so far.
func (a *ChoiceAccumulator) Text() string {
	return a.text.String()
}

// FinishReason returns the server finish reason, or "" while still open.
func (a *ChoiceAccumulator) FinishReason() string {
	return a.finishReason
}

// Yielded reports whether a Finished Completion was already emitted.
func (a *ChoiceAccumulator) Yielded() bool {
	return a.yielded
}

// Annotations returns a snapshot of the merged annotation table.
func (a *ChoiceAccumulator) Annotations() types.Annotations {
	return a.annotations.Snapshot()
}

// ToolCalls returns the merged tool calls.
func (a *ChoiceAccumulator) ToolCalls() []types.ToolCall {
	return a.tools.Complete()
}

// FunctionCall returns the merged legacy function call, if any.
func (a *ChoiceAccumulator) FunctionCall() *types.ToolCall {
	calls := a.function.Complete()
	if len(calls) == 0 {
		return nil
	}
	fc := calls[len(calls)-1]
	return &fc
}

// finish marks the accumulator yielded and returns its immutable snapshot.
func (a *ChoiceAccumulator) finish(reason string, offset *int) *types.FinishedCompletion {
	a.yielded = true
	return &types.FinishedCompletion{
		Index:        a.Index,
		Text:         a.Text(),
		FinishOffset: offset,
		FinishReason: reason,
		LogProbs:     a.logprobs.Clone(),
		Annotations:  a.Annotations(),
		ToolCalls:    a.ToolCalls(),
		FunctionCall: a.FunctionCall(),
	}
}

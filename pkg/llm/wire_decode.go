package llm

import (
	"encoding/json"
	"errors"
)

// errNotObject is returned when an event payload is valid JSON but not an object.
var errNotObject = errors.New("llm: event payload is not a JSON object")

// decodeField unmarshals raw into dst, leaving dst untouched on failure.
// It reports whether the field was present and well-formed.
func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) bool {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*dst = v
	return true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// UnmarshalJSON decodes a chunk field by field. Only a payload that is not a
// JSON object is an error; mistyped fields default.
func (c *StreamChunk) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*c = StreamChunk{}
	decodeField(fields, "id", &c.ID)
	decodeField(fields, "model", &c.Model)
	decodeField(fields, "created", &c.Created)
	decodeField(fields, "usage", &c.Usage)
	decodeField(fields, "copilot_references", &c.References)
	decodeField(fields, "copilot_errors", &c.Errors)
	if raw, ok := fields["copilot_confirmation"]; ok && !isNull(raw) {
		c.Confirmation = append(json.RawMessage(nil), raw...)
	}
	decodeField(fields, "error", &c.Error)

	var rawChoices []json.RawMessage
	if decodeField(fields, "choices", &rawChoices) {
		c.Choices = make([]Choice, 0, len(rawChoices))
		for _, raw := range rawChoices {
			var ch Choice
			if err := json.Unmarshal(raw, &ch); err != nil {
				continue
			}
			c.Choices = append(c.Choices, ch)
		}
	}
	return nil
}

// UnmarshalJSON decodes a choice field by field. A choice that is not an
// object is rejected and skipped by the chunk decoder.
func (ch *Choice) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*ch = Choice{}
	decodeField(fields, "index", &ch.Index)
	decodeField(fields, "text", &ch.Text)
	decodeField(fields, "finish_reason", &ch.FinishReason)
	decodeField(fields, "logprobs", &ch.LogProbs)

	var delta map[string]json.RawMessage
	if decodeField(fields, "delta", &delta) && delta != nil {
		d := &Delta{}
		decodeField(delta, "role", &d.Role)
		decodeField(delta, "content", &d.Content)
		decodeField(delta, "function_call", &d.FunctionCall)
		decodeField(delta, "tool_calls", &d.ToolCalls)
		decodeField(delta, "copilot_annotations", &d.Annotations)
		ch.Delta = d
	}
	return nil
}

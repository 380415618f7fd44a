package llm

import (
	"maps"
	"strings"

	"github.com/jg-phare/ghostline/pkg/types"
)

// BuildRequestBody assembles the wire body for a completion request.
// Context lines are prepended to the prefix, one per line.
func BuildRequestBody(req types.CompletionRequest, model string) *CompletionBody {
	s := req.Sampling
	body := &CompletionBody{
		Prompt:      buildPrompt(req.Prompt),
		Suffix:      req.Prompt.Suffix,
		Stream:      true,
		MaxTokens:   s.MaxTokens,
		N:           req.Candidates(),
		Temperature: s.Temperature,
		TopP:        s.TopP,
		Stop:        s.Stop,
		LogProbs:    s.LogProbs,
		LogitBias:   s.LogitBias,
		Model:       model,
	}

	extra := map[string]any{}
	if req.Language != "" {
		extra["language"] = req.Language
	}
	maps.Copy(extra, req.Extra)
	if len(extra) > 0 {
		body.Extra = extra
	}

	return body
}

func buildPrompt(p types.Prompt) string {
	if len(p.Context) == 0 {
		return p.Prefix
	}
	var b strings.Builder
	for _, line := range p.Context {
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	b.WriteString(p.Prefix)
	return b.String()
}

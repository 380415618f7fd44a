package types

import "maps"

// Sampling holds the model sampling parameters for one request.
type Sampling struct {
	MaxTokens   int                // Upper bound on generated tokens
	Temperature float64            // 0 = greedy
	TopP        float64            // Nucleus sampling mass (1 = disabled)
	N           int                // Number of candidates requested
	Stop        []string           // Stop sequences
	LogProbs    *int               // Request top-k log-probabilities when non-nil
	LogitBias   map[string]float64 // Token id => bias
}

// DefaultSampling returns the parameters used when a caller supplies none.
func DefaultSampling() Sampling {
	return Sampling{
		MaxTokens:   500,
		Temperature: 0,
		TopP:        1,
		N:           1,
		Stop:        []string{"\n\n\n"},
	}
}

// Prompt is the document context around the cursor.
type Prompt struct {
	Prefix  string   // Text before the cursor
	Suffix  string   // Text after the cursor
	Context []string // Extra context lines prepended to the prefix
}

// CompletionRequest is the immutable input for one completion opportunity.
// Build it with NewCompletionRequest; nothing in this module mutates it afterwards.
type CompletionRequest struct {
	ID       string            // Client-generated request id (uuid)
	Prompt   Prompt            // Prefix/suffix/context
	Language string            // Language identifier, e.g. "go"
	Sampling Sampling          // Sampling parameters
	Extra    map[string]any    // Provider-specific "extra" bag, opaque to the decoder
	Headers  map[string]string // Provider-specific request headers
}

// RequestOption customizes a CompletionRequest during construction.
type RequestOption func(*CompletionRequest)

// WithRequestID overrides the generated client request id.
func WithRequestID(id string) RequestOption {
	return func(r *CompletionRequest) {
		if id != "" {
			r.ID = id
		}
	}
}

// WithSampling replaces the default sampling parameters.
func WithSampling(s Sampling) RequestOption {
	return func(r *CompletionRequest) { r.Sampling = s }
}

// WithContextLines adds extra context lines.
func WithContextLines(lines ...string) RequestOption {
	return func(r *CompletionRequest) { r.Prompt.Context = append(r.Prompt.Context, lines...) }
}

// WithExtra sets one key in the provider-specific extra bag.
func WithExtra(key string, value any) RequestOption {
	return func(r *CompletionRequest) {
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[key] = value
	}
}

// WithRepository records the repository name (owner/name) in the extra bag.
func WithRepository(nwo string) RequestOption {
	return WithExtra("repository", nwo)
}

// WithHeader adds a provider-specific request header.
func WithHeader(key, value string) RequestOption {
	return func(r *CompletionRequest) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// NewCompletionRequest builds a request with a fresh client request id and
// default sampling. Slices and maps are copied so later caller mutation
// cannot leak into an in-flight request.
func NewCompletionRequest(prefix, suffix, language string, opts ...RequestOption) CompletionRequest {
	r := CompletionRequest{
		ID:       NewRequestID(),
		Prompt:   Prompt{Prefix: prefix, Suffix: suffix},
		Language: language,
		Sampling: DefaultSampling(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&r)
		}
	}
	if r.Sampling.N < 1 {
		r.Sampling.N = 1
	}
	return r.clone()
}

func (r CompletionRequest) clone() CompletionRequest {
	out := r
	out.Prompt.Context = append([]string(nil), r.Prompt.Context...)
	out.Sampling.Stop = append([]string(nil), r.Sampling.Stop...)
	out.Sampling.LogitBias = maps.Clone(r.Sampling.LogitBias)
	if r.Sampling.LogProbs != nil {
		n := *r.Sampling.LogProbs
		out.Sampling.LogProbs = &n
	}
	out.Extra = maps.Clone(r.Extra)
	out.Headers = maps.Clone(r.Headers)
	return out
}

// Candidates returns the number of choices the server is expected to stream.
func (r CompletionRequest) Candidates() int {
	if r.Sampling.N < 1 {
		return 1
	}
	return r.Sampling.N
}

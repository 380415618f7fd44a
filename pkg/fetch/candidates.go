package fetch

import (
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/jg-phare/ghostline/pkg/llm"
	"github.com/jg-phare/ghostline/pkg/types"
)

// Candidate is one post-processed completion.
type Candidate struct {
	Completion *types.FinishedCompletion
	Text       string // Truncated text after post-processing
}

// PostProcessor rewrites a candidate. Returning false drops it.
type PostProcessor func(Candidate) (Candidate, bool)

// TrimTrailingWhitespace strips trailing whitespace from the text.
func TrimTrailingWhitespace(c Candidate) (Candidate, bool) {
	c.Text = strings.TrimRight(c.Text, " \t\r\n")
	return c, true
}

// DropEmpty drops candidates whose text is blank.
func DropEmpty(c Candidate) (Candidate, bool) {
	return c, strings.TrimSpace(c.Text) != ""
}

// Candidates is a lazy sequence of candidates decoded from one response.
// It is not safe for concurrent use. Drain it or call Close.
type Candidates struct {
	stream *llm.Stream
	post   []PostProcessor
}

func newCandidates(stream *llm.Stream, post []PostProcessor) *Candidates {
	return &Candidates{stream: stream, post: post}
}

// Next returns the next candidate that survives post-processing, io.EOF at
// the end of the stream, or the error that stopped it.
func (c *Candidates) Next() (Candidate, error) {
	for {
		fc, err := c.stream.Next()
		if err != nil {
			return Candidate{}, err
		}
		cand, ok := c.apply(Candidate{Completion: fc, Text: fc.Completion()})
		if ok {
			return cand, nil
		}
	}
}

func (c *Candidates) apply(cand Candidate) (Candidate, bool) {
	for _, p := range c.post {
		var ok bool
		if cand, ok = p(cand); !ok {
			return cand, false
		}
	}
	return cand, true
}

// All returns an iterator over the remaining candidates. A terminal error
// other than io.EOF is yielded once with a zero Candidate. The stream is
// closed when iteration ends, including on break.
func (c *Candidates) All() iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		defer c.Close()
		for {
			cand, err := c.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Candidate{}, err)
				return
			}
			if !yield(cand, nil) {
				return
			}
		}
	}
}

// Collect drains the sequence. Candidates emitted before an error are
// returned along with it.
func (c *Candidates) Collect() ([]Candidate, error) {
	var out []Candidate
	for cand, err := range c.All() {
		if err != nil {
			return out, err
		}
		out = append(out, cand)
	}
	return out, nil
}

// Close tears down the underlying stream. It is idempotent.
func (c *Candidates) Close() error {
	return c.stream.Close()
}

// Stats reports what the decoder consumed so far.
func (c *Candidates) Stats() llm.Stats {
	return c.stream.Stats()
}

// Model returns the model reported by the server, once seen.
func (c *Candidates) Model() string {
	return c.stream.Model()
}

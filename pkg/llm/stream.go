package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jg-phare/ghostline/pkg/types"
)

type streamState int

const (
	stateReceiving streamState = iota
	stateDraining
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateReceiving:
		return "receiving"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("streamState(%d)", int(s))
	}
}

// Stats counts what a Stream consumed.
type Stats struct {
	Bytes     int64 // Bytes read from the body
	Lines     int   // Complete lines seen
	Events    int   // data: events other than the terminator
	Malformed int   // Events skipped because they did not parse
}

// StreamConfig configures a decoder session.
type StreamConfig struct {
	Expected    int             // Number of choices requested (n)
	Oracle      Oracle          // Block-completion oracle; nil means NoOracle
	DropReasons []string        // Finish reasons whose candidates are discarded
	RequestID   types.RequestID // Copied into every Finished Completion
	Logger      *slog.Logger    // Defaults to slog.Default()
}

// choiceSlot is either an open accumulator or a tombstone.
type choiceSlot struct {
	acc    *ChoiceAccumulator
	closed bool
}

// Stream decodes an SSE completion body into Finished Completions.
//
// Decoding happens synchronously inside Next, so oracle calls and
// accumulator updates are strictly sequential. A Stream is not safe for
// concurrent use. Callers must drain it to io.EOF or call Close.
type Stream struct {
	ctx    context.Context
	body   io.ReadCloser
	lines  *LineReader
	oracle Oracle
	drop   map[string]bool
	logger *slog.Logger

	expected int
	choices  map[int]*choiceSlot
	pending  []*types.FinishedCompletion
	state    streamState
	stats    Stats
	reqID    types.RequestID
	model    string
	usage    *types.Usage
	err      error

	stopAfter   func() bool
	destroyOnce sync.Once
	closeErr    error
}

// NewStream starts a decoder session over body. Cancelling ctx closes body
// promptly, even while Next is blocked on a read.
func NewStream(ctx context.Context, body io.ReadCloser, cfg StreamConfig) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = NoOracle
	}
	drop := make(map[string]bool, len(cfg.DropReasons))
	for _, r := range cfg.DropReasons {
		drop[r] = true
	}

	s := &Stream{
		ctx:      ctx,
		body:     body,
		lines:    NewLineReader(body),
		oracle:   oracle,
		drop:     drop,
		logger:   logger,
		expected: cfg.Expected,
		choices:  make(map[int]*choiceSlot),
		reqID:    cfg.RequestID,
	}
	s.stopAfter = context.AfterFunc(ctx, s.destroy)
	return s
}

// Next returns the next Finished Completion, io.EOF when the session is done,
// or the context error once cancellation is observed. After cancellation no
// further completions are returned, including ones already decoded.
func (s *Stream) Next() (*types.FinishedCompletion, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		if s.state == stateClosed && len(s.pending) == 0 {
			return nil, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			s.abort(err)
			return nil, err
		}
		if len(s.pending) > 0 {
			fc := s.pending[0]
			s.pending = s.pending[1:]
			return fc, nil
		}
		if err := s.step(); err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			s.abort(err)
			return nil, err
		}
	}
}

// Close stops decoding and releases the body. It is idempotent.
func (s *Stream) Close() error {
	s.pending = nil
	s.state = stateClosed
	s.release()
	return s.closeErr
}

// Stats returns the session counters.
func (s *Stream) Stats() Stats {
	st := s.stats
	st.Bytes = s.lines.Bytes
	return st
}

// RequestID returns the request ids, including the completion id once seen.
func (s *Stream) RequestID() types.RequestID {
	return s.reqID
}

// Model returns the model reported by the server, if any.
func (s *Stream) Model() string {
	return s.model
}

// State returns the session state name.
func (s *Stream) State() string {
	return s.state.String()
}

func (s *Stream) step() error {
	line, err := s.lines.Next()
	if errors.Is(err, io.EOF) {
		s.logger.Debug("stream ended without terminator", "open", s.openCount())
		return s.drain()
	}
	if err != nil {
		return fmt.Errorf("llm: read stream: %w", err)
	}
	s.stats.Lines++
	return s.handleLine(line)
}

func (s *Stream) handleLine(line []byte) error {
	payload, ok := eventPayload(line)
	if !ok {
		return nil
	}
	if string(payload) == doneMarker {
		return s.drain()
	}

	s.stats.Events++
	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		s.stats.Malformed++
		s.logger.Warn("skipping malformed stream event", "bytes", len(payload), "error", err)
		return nil
	}
	return s.handleChunk(&chunk)
}

func (s *Stream) handleChunk(chunk *StreamChunk) error {
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.ID != "" && s.reqID.CompletionID == "" {
		s.reqID.CompletionID = chunk.ID
	}
	if u := chunk.Usage; u != nil {
		s.usage = &types.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}

	if chunk.HasOutOfBand() {
		if chunk.Error != nil {
			s.logger.Warn("server error in stream", "message", chunk.Error.Message)
		}
		_, err := s.decide("", Update{
			Index:        OutOfBandIndex,
			References:   chunk.References,
			Confirmation: chunk.Confirmation,
			Errors:       chunk.Errors,
			Error:        chunk.Error,
		})
		if err != nil {
			return err
		}
	}

	for i := range chunk.Choices {
		if err := s.handleChoice(&chunk.Choices[i]); err != nil {
			return err
		}
		if s.allClosed() {
			s.logger.Debug("all choices closed", "discarded", s.lines.Buffered())
			s.lines.Discard()
			s.state = stateClosed
			s.release()
			return nil
		}
	}
	return nil
}

func (s *Stream) handleChoice(ch *Choice) error {
	slot := s.choices[ch.Index]
	if slot != nil && slot.closed {
		return nil
	}
	if slot == nil {
		slot = &choiceSlot{acc: NewChoiceAccumulator(ch.Index)}
		s.choices[ch.Index] = slot
	}
	acc := slot.acc

	text := acc.Append(ch)
	reason := acc.FinishReason()
	if reason != "" && s.drop[reason] {
		s.logger.Debug("dropping candidate", "index", ch.Index, "reason", reason)
		tombstone(slot)
		return nil
	}
	if reason == "" && !strings.Contains(text, "\n") {
		return nil
	}

	d, err := s.decide(acc.Text(), s.update(acc, text, false))
	if err != nil {
		return err
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}

	yield, cont, offset := false, true, (*int)(nil)
	if d != nil {
		yield, cont, offset = d.Yield, d.Continue, d.Offset
	}
	if reason != "" {
		yield, cont = true, false
	}

	if yield && !acc.Yielded() {
		if reason == "" {
			reason = types.FinishReasonClientTrimmed
		}
		s.emit(acc, reason, offset)
	}
	if !cont {
		tombstone(slot)
	}
	return nil
}

// drain finalizes every open accumulator in index order and closes the session.
func (s *Stream) drain() error {
	s.state = stateDraining

	open := make([]int, 0, len(s.choices))
	for idx, slot := range s.choices {
		if !slot.closed {
			open = append(open, idx)
		}
	}
	slices.Sort(open)

	for _, idx := range open {
		slot := s.choices[idx]
		acc := slot.acc
		d, err := s.decide(acc.Text(), s.update(acc, "", true))
		if err != nil {
			return err
		}
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if !acc.Yielded() {
			var offset *int
			if d != nil {
				offset = d.Offset
			}
			s.emit(acc, types.FinishReasonIterationDone, offset)
		}
		tombstone(slot)
	}

	s.state = stateClosed
	s.release()
	s.logger.Debug("stream closed",
		"bytes", s.lines.Bytes,
		"events", s.stats.Events,
		"malformed", s.stats.Malformed,
	)
	return nil
}

func (s *Stream) update(acc *ChoiceAccumulator, text string, finished bool) Update {
	return Update{
		Index:        acc.Index,
		Text:         text,
		FinishReason: acc.FinishReason(),
		Finished:     finished,
		Annotations:  acc.Annotations(),
		ToolCalls:    acc.ToolCalls(),
		FunctionCall: acc.FunctionCall(),
	}
}

func (s *Stream) decide(text string, u Update) (*Decision, error) {
	d, err := s.oracle.Decide(s.ctx, text, u)
	if err != nil {
		return nil, fmt.Errorf("llm: oracle: %w", err)
	}
	return d, nil
}

func (s *Stream) emit(acc *ChoiceAccumulator, reason string, offset *int) {
	fc := acc.finish(reason, offset)
	fc.RequestID = s.reqID
	fc.Model = s.model
	if s.usage != nil {
		u := *s.usage
		fc.Usage = &u
	}
	s.pending = append(s.pending, fc)
}

func tombstone(slot *choiceSlot) {
	slot.closed = true
	slot.acc = nil
}

func (s *Stream) allClosed() bool {
	if s.expected < 1 {
		return false
	}
	for i := 0; i < s.expected; i++ {
		slot := s.choices[i]
		if slot == nil || !slot.closed {
			return false
		}
	}
	return true
}

func (s *Stream) openCount() int {
	n := 0
	for _, slot := range s.choices {
		if !slot.closed {
			n++
		}
	}
	return n
}

func (s *Stream) abort(err error) {
	s.err = err
	s.pending = nil
	s.state = stateClosed
	s.release()
}

// release unregisters the cancellation hook and destroys the body.
// It must run on the goroutine calling Next.
func (s *Stream) release() {
	s.stopAfter()
	s.destroy()
}

// destroy closes the body exactly once. It may run on the AfterFunc goroutine.
func (s *Stream) destroy() {
	s.destroyOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
}

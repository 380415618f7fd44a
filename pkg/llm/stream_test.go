package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/jg-phare/ghostline/pkg/types"
)

// countingBody records how many times Close is called.
type countingBody struct {
	io.Reader
	closer io.Closer
	closes atomic.Int32
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

func bodyOf(lines ...string) *countingBody {
	return &countingBody{Reader: strings.NewReader(strings.Join(lines, "\n") + "\n")}
}

func ev(payload string) string { return "data: " + payload }

const done = "data: [DONE]"

// recordingOracle records every call and delegates to next.
type recordingOracle struct {
	mu    sync.Mutex
	calls []Update
	texts []string
	next  Oracle
}

func (o *recordingOracle) Decide(ctx context.Context, text string, u Update) (*Decision, error) {
	o.mu.Lock()
	o.calls = append(o.calls, u)
	o.texts = append(o.texts, text)
	o.mu.Unlock()
	if o.next == nil {
		return nil, nil
	}
	return o.next.Decide(ctx, text, u)
}

func drainAll(t *testing.T, s *Stream) ([]*types.FinishedCompletion, error) {
	t.Helper()
	var out []*types.FinishedCompletion
	for {
		fc, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, fc)
	}
}

func TestStream(t *testing.T) {
	t.Run("two fragments then done", func(t *testing.T) {
		oracle := &recordingOracle{}
		body := bodyOf(
			ev(`{"id":"cmpl-1","model":"m1","choices":[{"index":0,"delta":{"content":"a"}}]}`),
			ev(`{"id":"cmpl-1","model":"m1","choices":[{"index":0,"delta":{"content":"b\n"}}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{
			Expected:  1,
			Oracle:    oracle,
			RequestID: types.RequestID{ClientID: "client-1"},
		})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d completions, want 1", len(got))
		}
		fc := got[0]
		if fc.Text != "ab\n" {
			t.Errorf("Text = %q, want %q", fc.Text, "ab\n")
		}
		if fc.FinishReason != types.FinishReasonIterationDone {
			t.Errorf("FinishReason = %q, want %q", fc.FinishReason, types.FinishReasonIterationDone)
		}
		if fc.Model != "m1" {
			t.Errorf("Model = %q, want m1", fc.Model)
		}
		if fc.RequestID.ClientID != "client-1" || fc.RequestID.CompletionID != "cmpl-1" {
			t.Errorf("RequestID = %+v", fc.RequestID)
		}
		// One call on the newline, one final call at [DONE].
		if len(oracle.calls) != 2 {
			t.Fatalf("oracle calls = %d, want 2", len(oracle.calls))
		}
		if oracle.texts[0] != "ab\n" || oracle.calls[0].Text != "b\n" || oracle.calls[0].Finished {
			t.Errorf("first call = (%q, %+v)", oracle.texts[0], oracle.calls[0])
		}
		if !oracle.calls[1].Finished {
			t.Error("final call should have Finished set")
		}
		if body.closes.Load() != 1 {
			t.Errorf("body closes = %d, want 1", body.closes.Load())
		}
	})

	t.Run("oracle truncates", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"foo()\n"}]}`),
			ev(`{"choices":[{"index":0,"text":"bar()\n"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1, Oracle: LineOracle(1)})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d completions, want 1", len(got))
		}
		fc := got[0]
		if fc.Text != "foo()\n" {
			t.Errorf("Text = %q, want pre-truncation text", fc.Text)
		}
		if fc.Completion() != "foo()" {
			t.Errorf("Completion() = %q, want %q", fc.Completion(), "foo()")
		}
		if !fc.Finished() {
			t.Error("Finished() = false, want true")
		}
		if fc.FinishReason != types.FinishReasonClientTrimmed {
			t.Errorf("FinishReason = %q, want %q", fc.FinishReason, types.FinishReasonClientTrimmed)
		}
	})

	t.Run("truncation offset matches prefix", func(t *testing.T) {
		for _, k := range []int{0, 3, 7} {
			t.Run(fmt.Sprint(k), func(t *testing.T) {
				oracle := OracleFunc(func(_ context.Context, text string, u Update) (*Decision, error) {
					return FinishAt(k), nil
				})
				body := bodyOf(ev(`{"choices":[{"index":0,"text":"abc\ndefg"}]}`), done)
				s := NewStream(context.Background(), body, StreamConfig{Expected: 1, Oracle: oracle})

				got, err := drainAll(t, s)
				if err != nil {
					t.Fatalf("drain: %v", err)
				}
				if len(got) != 1 {
					t.Fatalf("got %d completions, want 1", len(got))
				}
				want := "abc\ndefg"[:k]
				if got[0].Completion() != want {
					t.Errorf("Completion() = %q, want %q", got[0].Completion(), want)
				}
			})
		}
	})

	t.Run("interleaved choices with one unfinished", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"zero"},{"index":1,"text":"one"}]}`),
			ev(`{"choices":[{"index":2,"text":"two"}]}`),
			ev(`{"choices":[{"index":0,"text":"!","finish_reason":"stop"}]}`),
			ev(`{"choices":[{"index":1,"text":" more"},{"index":2,"text":"","finish_reason":"length"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 3})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d completions, want 3", len(got))
		}
		want := []struct {
			index  int
			text   string
			reason string
		}{
			{0, "zero!", "stop"},
			{2, "two", "length"},
			{1, "one more", types.FinishReasonIterationDone},
		}
		for i, w := range want {
			if got[i].Index != w.index || got[i].Text != w.text || got[i].FinishReason != w.reason {
				t.Errorf("completion %d = {%d %q %q}, want {%d %q %q}",
					i, got[i].Index, got[i].Text, got[i].FinishReason, w.index, w.text, w.reason)
			}
		}
	})

	t.Run("stream ends without terminator", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"x"}]}`),
			ev(`{"choices":[{"index":1,"text":"y"}]}`),
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 2})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d completions, want 2", len(got))
		}
		for _, fc := range got {
			if fc.FinishReason != types.FinishReasonIterationDone {
				t.Errorf("index %d FinishReason = %q", fc.Index, fc.FinishReason)
			}
		}
	})

	t.Run("drop list discards candidate", func(t *testing.T) {
		oracle := &recordingOracle{}
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"secret"},{"index":1,"text":"fine"}]}`),
			ev(`{"choices":[{"index":0,"text":"","finish_reason":"content_filter"}]}`),
			ev(`{"choices":[{"index":1,"text":"","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{
			Expected:    2,
			Oracle:      oracle,
			DropReasons: []string{"content_filter"},
		})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 || got[0].Index != 1 {
			t.Fatalf("got %+v, want only index 1", got)
		}
		for _, u := range oracle.calls {
			if u.Index == 0 {
				t.Error("oracle called for a dropped candidate")
			}
		}
	})

	t.Run("closed choice ignores further data", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"a","finish_reason":"stop"}]}`),
			ev(`{"choices":[{"index":0,"text":"late\n","finish_reason":"stop"}]}`),
			ev(`{"choices":[{"index":1,"text":"b","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 2})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		seen := map[int]int{}
		for _, fc := range got {
			seen[fc.Index]++
		}
		if seen[0] != 1 || seen[1] != 1 {
			t.Errorf("emissions per index = %v, want one each", seen)
		}
		if got[0].Text != "a" {
			t.Errorf("Text = %q, want %q", got[0].Text, "a")
		}
	})

	t.Run("yield and continue emits once", func(t *testing.T) {
		oracle := OracleFunc(func(_ context.Context, text string, u Update) (*Decision, error) {
			return &Decision{Yield: true, Continue: true}, nil
		})
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"a\n"}]}`),
			ev(`{"choices":[{"index":0,"text":"b\n"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1, Oracle: oracle})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d completions, want 1", len(got))
		}
		if got[0].Text != "a\n" {
			t.Errorf("Text = %q, want snapshot at first yield", got[0].Text)
		}
	})

	t.Run("short-circuit once all choices closed", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"a","finish_reason":"stop"}]}`),
			ev(`{"choices":[{"index":0,"text":"ignored"}]}`),
			"data: {partial",
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d completions, want 1", len(got))
		}
		if st := s.Stats(); st.Lines != 1 || st.Malformed != 0 {
			t.Errorf("Stats = %+v, want 1 line and nothing malformed", st)
		}
		if body.closes.Load() != 1 {
			t.Errorf("body closes = %d, want 1", body.closes.Load())
		}
		if s.State() != "closed" {
			t.Errorf("State() = %q, want closed", s.State())
		}
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		body := bodyOf(
			": keep-alive",
			"event: completion",
			"data: {not json",
			"data: [1,2,3]",
			"data:",
			ev(`{"choices":[{"index":0,"text":"ok","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 || got[0].Text != "ok" {
			t.Fatalf("got %+v", got)
		}
		if st := s.Stats(); st.Malformed != 3 {
			t.Errorf("Malformed = %d, want 3", st.Malformed)
		}
	})

	t.Run("mistyped fields default", func(t *testing.T) {
		body := bodyOf(
			ev(`{"model":42,"choices":[{"index":0,"text":"ok","logprobs":"nope","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 || got[0].Text != "ok" || got[0].LogProbs != nil {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("byte-at-a-time delivery", func(t *testing.T) {
		raw := strings.Join([]string{
			ev(`{"choices":[{"index":0,"text":"héllo "}]}`),
			ev(`{"choices":[{"index":0,"text":"wörld","finish_reason":"stop"}]}`),
			done,
		}, "\r\n") + "\r\n"
		body := &countingBody{Reader: iotest.OneByteReader(strings.NewReader(raw))}
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 || got[0].Text != "héllo wörld" {
			t.Fatalf("got %+v", got)
		}
		if st := s.Stats(); st.Bytes == 0 {
			t.Error("Stats.Bytes = 0")
		}
	})

	t.Run("out-of-band signals reach oracle", func(t *testing.T) {
		oracle := &recordingOracle{next: OracleFunc(func(_ context.Context, _ string, u Update) (*Decision, error) {
			if u.Index == OutOfBandIndex {
				return FinishAt(0), nil // ignored
			}
			return nil, nil
		})}
		body := bodyOf(
			ev(`{"copilot_references":[{"type":"file","id":"a.go"}]}`),
			ev(`{"copilot_confirmation":{"title":"ok?"}}`),
			ev(`{"error":{"message":"partial failure"}}`),
			ev(`{"choices":[{"index":0,"text":"x","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1, Oracle: oracle})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 || got[0].Text != "x" {
			t.Fatalf("got %+v", got)
		}

		var oob []Update
		for i, u := range oracle.calls {
			if u.Index == OutOfBandIndex {
				if oracle.texts[i] != "" {
					t.Errorf("out-of-band text = %q, want empty", oracle.texts[i])
				}
				oob = append(oob, u)
			}
		}
		if len(oob) != 3 {
			t.Fatalf("out-of-band calls = %d, want 3", len(oob))
		}
		if len(oob[0].References) != 1 {
			t.Errorf("References = %v", oob[0].References)
		}
		if len(oob[1].Confirmation) == 0 {
			t.Error("Confirmation not forwarded")
		}
		if oob[2].Error == nil || oob[2].Error.Message != "partial failure" {
			t.Errorf("Error = %+v", oob[2].Error)
		}
	})

	t.Run("annotations tool calls and logprobs", func(t *testing.T) {
		body := bodyOf(
			ev(`{"choices":[{"index":0,"delta":{"content":"x","copilot_annotations":{"CodeVulnerability":[{"id":1,"start_offset":0,"stop_offset":1}]}},"logprobs":{"tokens":["x"],"token_logprobs":[-0.5],"text_offset":[0]}}]}`),
			ev(`{"choices":[{"index":0,"delta":{"content":"y","copilot_annotations":{"CodeVulnerability":[{"id":1,"start_offset":0,"stop_offset":2}]}},"logprobs":{"tokens":["y"],"token_logprobs":[-0.25],"text_offset":[1]}}]}`),
			ev(`{"choices":[{"index":0,"delta":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`),
			ev(`{"choices":[{"index":0,"delta":{"tool_calls":[{"function":{"arguments":"1}"}}]}}]}`),
			ev(`{"choices":[{"index":0,"delta":{"function_call":{"name":"legacy","arguments":"{}"}}}]}`),
			ev(`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		got, err := drainAll(t, s)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d completions, want 1", len(got))
		}
		fc := got[0]
		if fc.Text != "xy" {
			t.Errorf("Text = %q, want xy", fc.Text)
		}
		anns := fc.Annotations["CodeVulnerability"]
		if len(anns) != 1 || anns[0].StopOffset != 2 {
			t.Errorf("Annotations = %+v, want one entry with StopOffset 2", anns)
		}
		if len(fc.ToolCalls) != 1 || fc.ToolCalls[0].Function.Arguments != `{"q":1}` {
			t.Errorf("ToolCalls = %+v", fc.ToolCalls)
		}
		if fc.FunctionCall == nil || fc.FunctionCall.Function.Name != "legacy" {
			t.Errorf("FunctionCall = %+v", fc.FunctionCall)
		}
		if fc.LogProbs == nil || len(fc.LogProbs.Tokens) != 2 || fc.LogProbs.TokenLogProbs[1] != -0.25 {
			t.Errorf("LogProbs = %+v", fc.LogProbs)
		}
		if fc.Usage == nil || fc.Usage.TotalTokens != 5 {
			t.Errorf("Usage = %+v", fc.Usage)
		}
	})

	t.Run("oracle calls are sequential per index", func(t *testing.T) {
		var active atomic.Int32
		var order []string
		oracle := OracleFunc(func(_ context.Context, text string, u Update) (*Decision, error) {
			if active.Add(1) != 1 {
				t.Error("concurrent oracle call")
			}
			defer active.Add(-1)
			time.Sleep(time.Millisecond)
			order = append(order, fmt.Sprintf("%d:%q", u.Index, u.Text))
			return nil, nil
		})
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"a\n"},{"index":1,"text":"b\n"}]}`),
			ev(`{"choices":[{"index":0,"text":"c\n"}]}`),
			done,
		)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 2, Oracle: oracle})

		if _, err := drainAll(t, s); err != nil {
			t.Fatalf("drain: %v", err)
		}
		want := []string{`0:"a\n"`, `1:"b\n"`, `0:"c\n"`, `0:""`, `1:""`}
		if strings.Join(order, ",") != strings.Join(want, ",") {
			t.Errorf("order = %v, want %v", order, want)
		}
	})

	t.Run("oracle error ends stream", func(t *testing.T) {
		boom := errors.New("parse failed")
		oracle := OracleFunc(func(context.Context, string, Update) (*Decision, error) { return nil, boom })
		body := bodyOf(ev(`{"choices":[{"index":0,"text":"a\n"}]}`), done)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1, Oracle: oracle})

		_, err := drainAll(t, s)
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
		if body.closes.Load() != 1 {
			t.Errorf("body closes = %d, want 1", body.closes.Load())
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		boom := errors.New("connection reset")
		body := &countingBody{Reader: io.MultiReader(
			strings.NewReader(ev(`{"choices":[{"index":0,"text":"a"}]}`)+"\n"),
			iotest.ErrReader(boom),
		)}
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		_, err := drainAll(t, s)
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
		if !strings.HasPrefix(err.Error(), "llm: read stream:") {
			t.Errorf("err = %q, want llm: read stream prefix", err)
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		body := bodyOf(ev(`{"choices":[{"index":0,"text":"a"}]}`), done)
		s := NewStream(context.Background(), body, StreamConfig{Expected: 1})

		s.Close()
		s.Close()
		if body.closes.Load() != 1 {
			t.Errorf("body closes = %d, want 1", body.closes.Load())
		}
		if _, err := s.Next(); !errors.Is(err, io.EOF) {
			t.Errorf("Next after Close: err = %v, want io.EOF", err)
		}
	})
}

func TestStream_Cancellation(t *testing.T) {
	t.Run("cancel between decision and emission", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		oracle := OracleFunc(func(_ context.Context, text string, u Update) (*Decision, error) {
			cancel()
			return FinishAt(len(text)), nil
		})
		body := bodyOf(
			ev(`{"choices":[{"index":0,"text":"a\n"}]}`),
			ev(`{"choices":[{"index":1,"text":"b","finish_reason":"stop"}]}`),
			done,
		)
		s := NewStream(ctx, body, StreamConfig{Expected: 2, Oracle: oracle})

		got, err := drainAll(t, s)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d completions, want 0", len(got))
		}
		s.Close()
		if n := body.closes.Load(); n != 1 {
			t.Errorf("body closes = %d, want exactly 1", n)
		}
	})

	t.Run("cancel mid-stream after one emission", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pr, pw := io.Pipe()
		body := &countingBody{Reader: pr, closer: pr}
		s := NewStream(ctx, body, StreamConfig{Expected: 2})

		go func() {
			fmt.Fprintln(pw, ev(`{"choices":[{"index":0,"text":"first","finish_reason":"stop"}]}`))
			fmt.Fprintln(pw, ev(`{"choices":[{"index":1,"text":"partial"}]}`))
			// Hold the stream open; the writer is unblocked when the reader closes.
		}()

		fc, err := s.Next()
		if err != nil {
			t.Fatalf("first Next: %v", err)
		}
		if fc.Index != 0 || fc.Text != "first" {
			t.Errorf("first = %+v", fc)
		}

		errCh := make(chan error, 1)
		go func() {
			_, err := s.Next()
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Next did not return after cancellation")
		}

		if fc.Text != "first" {
			t.Errorf("emitted completion mutated: %q", fc.Text)
		}
		s.Close()
		if n := body.closes.Load(); n != 1 {
			t.Errorf("body closes = %d, want exactly 1", n)
		}
		if _, err := s.Next(); !errors.Is(err, context.Canceled) {
			t.Errorf("Next after cancel: err = %v, want context.Canceled", err)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		body := bodyOf(ev(`{"choices":[{"index":0,"text":"a","finish_reason":"stop"}]}`), done)
		s := NewStream(ctx, body, StreamConfig{Expected: 1})

		if _, err := s.Next(); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		s.Close()
		if n := body.closes.Load(); n != 1 {
			t.Errorf("body closes = %d, want exactly 1", n)
		}
	})
}

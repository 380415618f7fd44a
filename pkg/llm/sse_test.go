package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readLines(t *testing.T, lr *LineReader) []string {
	t.Helper()
	var out []string
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, string(line))
	}
}

func TestLineReader(t *testing.T) {
	t.Run("splits lines", func(t *testing.T) {
		lr := NewLineReader(strings.NewReader("a\nbb\r\n\nccc\n"))
		got := readLines(t, lr)
		want := []string{"a", "bb", "", "ccc"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("lines = %q, want %q", got, want)
		}
		if lr.Bytes != 11 {
			t.Errorf("Bytes = %d, want 11", lr.Bytes)
		}
	})

	t.Run("partial line across reads", func(t *testing.T) {
		lr := NewLineReader(iotest.OneByteReader(strings.NewReader("data: {\"x\":1}\ndata: [DONE]\n")))
		got := readLines(t, lr)
		if len(got) != 2 || got[0] != `data: {"x":1}` || got[1] != "data: [DONE]" {
			t.Errorf("lines = %q", got)
		}
	})

	t.Run("trailing unterminated line", func(t *testing.T) {
		lr := NewLineReader(strings.NewReader("a\ntail"))
		got := readLines(t, lr)
		if len(got) != 2 || got[1] != "tail" {
			t.Errorf("lines = %q, want [a tail]", got)
		}
	})

	t.Run("long line beyond read size", func(t *testing.T) {
		long := strings.Repeat("x", 3*readChunkSize)
		lr := NewLineReader(strings.NewReader(long + "\nend\n"))
		got := readLines(t, lr)
		if len(got) != 2 || len(got[0]) != len(long) {
			t.Errorf("got %d lines, first len %d", len(got), len(got[0]))
		}
	})

	t.Run("returned lines survive later reads", func(t *testing.T) {
		lr := NewLineReader(iotest.HalfReader(strings.NewReader("first\nsecond\nthird\n")))
		first, _ := lr.Next()
		lr.Next()
		lr.Next()
		if string(first) != "first" {
			t.Errorf("first = %q after later reads", first)
		}
	})

	t.Run("buffered and discard", func(t *testing.T) {
		lr := NewLineReader(strings.NewReader("a\npartial"))
		lr.Next()
		if lr.Buffered() != len("partial") {
			t.Errorf("Buffered() = %d, want %d", lr.Buffered(), len("partial"))
		}
		lr.Discard()
		if lr.Buffered() != 0 {
			t.Errorf("Buffered() after Discard = %d", lr.Buffered())
		}
	})

	t.Run("read error", func(t *testing.T) {
		boom := errors.New("boom")
		lr := NewLineReader(iotest.ErrReader(boom))
		if _, err := lr.Next(); !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("read error drops partial line", func(t *testing.T) {
		boom := errors.New("connection reset")
		r := io.MultiReader(strings.NewReader("data: ok\ndata: {\"tru"), iotest.ErrReader(boom))
		lr := NewLineReader(r)
		line, err := lr.Next()
		if err != nil || string(line) != "data: ok" {
			t.Fatalf("Next() = %q, %v, want complete line", line, err)
		}
		line, err = lr.Next()
		if !errors.Is(err, boom) {
			t.Errorf("Next() = %q, %v, want connection reset", line, err)
		}
		if line != nil {
			t.Errorf("Next() returned partial line %q with the error", line)
		}
	})
}

func TestEventPayload(t *testing.T) {
	tests := []struct {
		line    string
		payload string
		ok      bool
	}{
		{`data: {"a":1}`, `{"a":1}`, true},
		{`data:{"a":1}`, `{"a":1}`, true},
		{"data: [DONE]", "[DONE]", true},
		{"data: [DONE]  ", "[DONE]", true},
		{"data:", "", true},
		{": ping", "", false},
		{"", "", false},
		{"event: message", "", false},
		{"id: 4", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			payload, ok := eventPayload([]byte(tt.line))
			if ok != tt.ok || string(payload) != tt.payload {
				t.Errorf("eventPayload(%q) = (%q, %v), want (%q, %v)", tt.line, payload, ok, tt.payload, tt.ok)
			}
		})
	}
}

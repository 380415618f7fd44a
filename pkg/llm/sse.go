package llm

import (
	"bytes"
	"errors"
	"io"
)

const readChunkSize = 32 * 1024

// doneMarker terminates the event stream.
const doneMarker = "[DONE]"

// LineReader splits an arbitrary-sized byte stream into lines, buffering a
// trailing partial line across reads. It has no line length limit.
type LineReader struct {
	r       io.Reader
	buf     []byte // unconsumed bytes, possibly a partial line
	scratch []byte
	eof     bool
	err     error

	// Bytes is the total number of bytes read from r.
	Bytes int64
}

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, scratch: make([]byte, readChunkSize)}
}

// Next returns the next complete line without its terminator ("\n" or "\r\n").
// A final unterminated line is returned before io.EOF. On any other read
// error the partial line is dropped and the error returned.
func (lr *LineReader) Next() ([]byte, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := lr.buf[:i]
			lr.buf = lr.buf[i+1:]
			return bytes.TrimSuffix(line, []byte{'\r'}), nil
		}
		if lr.eof {
			if len(lr.buf) > 0 && lr.err == io.EOF {
				line := lr.buf
				lr.buf = nil
				return bytes.TrimSuffix(line, []byte{'\r'}), nil
			}
			return nil, lr.err
		}
		lr.fill()
	}
}

// Buffered returns the number of bytes held for a not-yet-complete line.
func (lr *LineReader) Buffered() int {
	return len(lr.buf)
}

// Discard drops any buffered bytes.
func (lr *LineReader) Discard() {
	lr.buf = nil
}

func (lr *LineReader) fill() {
	n, err := lr.r.Read(lr.scratch)
	if n > 0 {
		lr.Bytes += int64(n)
		// Returned lines alias the old buffer; never write into it.
		next := make([]byte, 0, len(lr.buf)+n)
		next = append(next, lr.buf...)
		lr.buf = append(next, lr.scratch[:n]...)
	}
	if err != nil {
		lr.eof = true
		if errors.Is(err, io.EOF) {
			lr.err = io.EOF
		} else {
			lr.err = err
		}
	}
}

// eventPayload strips the SSE "data:" prefix. Comments, blank lines and
// non-data fields report ok=false.
func eventPayload(line []byte) (payload []byte, ok bool) {
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}
	rest, found := bytes.CutPrefix(line, []byte("data:"))
	if !found {
		return nil, false
	}
	rest = bytes.TrimPrefix(rest, []byte{' '})
	return bytes.TrimSpace(rest), true
}

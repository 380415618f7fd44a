package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// EventWriter writes the server side of a completion event stream:
// one "data: <payload>" line per event, flushed immediately. It backs the
// fixture replay server and test servers.
type EventWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewEventWriter sets the event-stream headers on w. It returns an error if w
// does not implement http.Flusher.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: ResponseWriter does not implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &EventWriter{writer: w, flusher: flusher}, nil
}

// WriteData writes one data event and flushes.
func (e *EventWriter) WriteData(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(e.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// WriteJSON marshals v and writes it as one data event.
func (e *EventWriter) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal event: %w", err)
	}
	return e.WriteData(b)
}

// WriteRaw writes a line verbatim (plus a newline) and flushes. Used to
// replay recorded streams, including comments and malformed lines.
func (e *EventWriter) WriteRaw(line []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(e.writer, "%s\n", line); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Done writes the stream terminator. Later writes return ErrStreamClosed.
func (e *EventWriter) Done() error {
	if err := e.WriteData([]byte("[DONE]")); err != nil {
		return err
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

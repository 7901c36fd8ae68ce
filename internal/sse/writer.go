// Package sse implements both halves of the server-sent-events wire
// format used by the solve stream: a mutex-guarded writer for handlers
// and a parser for clients consuming the buffered body.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// paddingBytes of comment whitespace are sent before any event so that
// buffering proxies flush early instead of holding the stream.
const paddingBytes = 2048

// Writer serializes SSE frames onto a ResponseWriter. Writes are
// mutex-guarded because the heartbeat goroutine and the handler share
// the connection.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter sets the stream headers and returns a frame writer. A nil
// flusher is tolerated for writers that buffer the whole body (tests).
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sse: writer closed")
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.closed = true
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Padding emits the large comment block plus the ":ok" probe frame.
func (s *Writer) Padding() error {
	return s.write(":" + strings.Repeat(" ", paddingBytes) + "\n" + ":ok\n\n")
}

// Comment emits a comment frame, used for heartbeats.
func (s *Writer) Comment(text string) error {
	return s.write(":" + text + "\n\n")
}

// Event emits a named event whose payload is marshaled to JSON.
func (s *Writer) Event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.EventRaw(name, data)
}

// EventRaw emits a named event carrying pre-marshaled JSON.
func (s *Writer) EventRaw(name string, data []byte) error {
	return s.write("event: " + name + "\ndata: " + string(data) + "\n\n")
}

// Data emits an unnamed data frame.
func (s *Writer) Data(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.DataRaw(data)
}

// DataRaw emits an unnamed data frame carrying pre-marshaled JSON.
func (s *Writer) DataRaw(data []byte) error {
	return s.write("data: " + string(data) + "\n\n")
}

// Close marks the writer as finished; later writes fail fast.
func (s *Writer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

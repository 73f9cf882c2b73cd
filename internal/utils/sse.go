package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

const (
	EventMessage = "message"
	EventError   = "error"

	doneMarker = "[DONE]"
)

var ErrSSEClosed = errors.New("sse stream already closed")

// SSEWriter writes text/event-stream frames and flushes after each one.
// It is safe for use from the callback goroutine and the handler at the same time.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// Write sends one frame. An empty event name omits the event line.
func (s *SSEWriter) Write(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSSEClosed
	}
	return s.frame(event, data)
}

func (s *SSEWriter) frame(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// WriteJSON marshals v as the data line of one event.
func (s *SSEWriter) WriteJSON(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Write(event, string(data))
}

// WriteError sends {"error": msg} as an error event.
func (s *SSEWriter) WriteError(err error) error {
	return s.WriteJSON(EventError, map[string]string{"error": err.Error()})
}

// Close sends the [DONE] marker once; later calls are no-ops.
func (s *SSEWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.frame("", doneMarker)
}

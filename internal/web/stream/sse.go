// Package stream pushes committed writes to API clients as Server-Sent
// Events.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotSupported is returned when the response cannot be flushed.
var ErrNotSupported = errors.New("streaming not supported")

// Event is one Server-Sent Event.
type Event struct {
	ID   string
	Name string
	Data any
}

// SSE writes an event stream and flushes after every event.
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSE sets the event stream headers on w.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotSupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSE{w: w, flusher: flusher}, nil
}

// Send writes ev. Data is JSON encoded unless it is already a string.
func (s *SSE) Send(ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	var data string
	switch v := ev.Data.(type) {
	case nil:
	case string:
		data = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		data = string(raw)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := s.w.Write([]byte(b.String())); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes a comment line, used as a keep-alive.
func (s *SSE) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Package sse writes the event-stream frames DevKit routes answer with.
//
// Each fragment travels as one frame:
//
//	data: {"content":"..."}
//
// a failure as
//
//	data: {"error":"...","details":"..."}
//
// and every stream ends with exactly one
//
//	data: [DONE]
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
)

// Done is the terminal sentinel payload.
const Done = "[DONE]"

// ErrClosed is returned by writes after Done.
var ErrClosed = errors.New("sse: write after done")

// ContentFrame carries one text fragment.
type ContentFrame struct {
	Content string `json:"content"`
}

// ErrorFrame reports a terminal failure.
type ErrorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer frames fragments onto w and flushes after every frame when w
// supports it. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	frames int
	done   bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		sw.flush = f.Flush
	}
	return sw
}

// Content writes a content frame.
func (w *Writer) Content(text string) error {
	return w.writeJSON(ContentFrame{Content: text})
}

// Error writes an error frame. details may be empty.
func (w *Writer) Error(msg, details string) error {
	return w.writeJSON(ErrorFrame{Error: msg, Details: details})
}

// Done writes the sentinel. Only the first call writes anything.
func (w *Writer) Done() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	return w.writeLocked([]byte(Done))
}

// Frames reports how many content and error frames were written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *Writer) writeJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrClosed
	}
	w.frames++
	return w.writeLocked(bytes.TrimRight(buf.Bytes(), "\n"))
}

func (w *Writer) writeLocked(payload []byte) error {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	w.flush()
	return nil
}

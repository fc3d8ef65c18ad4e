package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"go.uber.org/zap"
)

var (
	// ErrNoData is returned when a stream ends without any content or error.
	ErrNoData = errors.New("no data received from the server")

	// ErrTruncated is returned when the body ends before the [DONE] sentinel
	// after content was received.
	ErrTruncated = errors.New("stream ended before completion")
)

// StreamError is an error frame sent by the server.
type StreamError struct {
	Message string
	Details string
}

func (e *StreamError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Details)
	}
	return e.Message
}

type frame struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
	Details string  `json:"details"`
}

const maxLine = 4 * 1024 * 1024

// Fragments parses an event stream from r. Lines may arrive split across
// reads; only `data:` lines are interpreted. Malformed frames are logged and
// skipped. The sequence ends cleanly at the [DONE] sentinel.
func Fragments(r io.Reader, logger *zap.Logger) iter.Seq2[string, error] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

		received := 0
		for scanner.Scan() {
			line := bytes.TrimRight(scanner.Bytes(), "\r")
			payload, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			payload = bytes.TrimPrefix(payload, []byte(" "))

			if string(payload) == "[DONE]" {
				if received == 0 {
					yield("", ErrNoData)
				}
				return
			}

			var f frame
			if err := json.Unmarshal(payload, &f); err != nil {
				logger.Warn("skipping malformed frame", zap.ByteString("payload", payload), zap.Error(err))
				continue
			}
			if f.Error != nil {
				yield("", &StreamError{Message: *f.Error, Details: f.Details})
				return
			}
			if f.Content == nil || *f.Content == "" {
				continue
			}
			received++
			if !yield(*f.Content, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read stream: %w", err))
			return
		}
		if received == 0 {
			yield("", ErrNoData)
			return
		}
		yield("", ErrTruncated)
	}
}

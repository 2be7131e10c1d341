package stream

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const ssePreamble = "retry: 1000\n\n"

// SSEWriter frames chunks as server-sent events. The retry preamble is
// written before the first event and the writer is flushed after each.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	started bool
}

func NewSSEWriter(w io.Writer) *SSEWriter {
	return &SSEWriter{w: w}
}

// Emit writes ch as one event. Multi-line text becomes one data line per
// line so the client reassembles it with newlines intact.
func (s *SSEWriter) Emit(ch Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	if !s.started {
		sb.WriteString(ssePreamble)
		s.started = true
	}
	for _, line := range strings.Split(ch.Text, "\n") {
		sb.WriteString("data: " + line + "\n")
	}
	sb.WriteString("\n")

	if _, err := io.WriteString(s.w, sb.String()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return s.flush()
}

func (s *SSEWriter) flush() error {
	switch f := s.w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}

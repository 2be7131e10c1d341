package stream

import (
	"strings"

	"github.com/dtnitsch/llm-web-chat/pkg/prompt"
)

// markerScanner tracks whether the token stream is inside a thinking
// section. Markers may be split across tokens, so the unconsumed tail of
// the previous window is kept and searched together with the next token.
type markerScanner struct {
	thinking bool
	tail     string
}

// feed consumes tok and reports whether it belongs to a thinking section:
// it does if the section was open before tok, or tok opens or closes one.
func (s *markerScanner) feed(tok string) bool {
	window := s.tail + tok
	touched := s.thinking

	pos := 0
	for {
		marker := prompt.ThinkOpen
		if s.thinking {
			marker = prompt.ThinkClose
		}
		i := strings.Index(window[pos:], marker)
		if i < 0 {
			break
		}
		pos += i + len(marker)
		s.thinking = !s.thinking
		touched = true
	}

	rest := window[pos:]
	if keep := len(prompt.ThinkClose) - 1; len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	s.tail = rest
	return touched
}

package parser

import (
	"bytes"

	"github.com/gametrace/uplog/internal/logging"
)

const (
	// maxFragmentBytes bounds a pending fragment; an unbalanced brace in
	// the log must not grow the carry buffer forever.
	maxFragmentBytes = 1 << 20

	// maxPrefixTail bounds retained plain text between fragments.
	maxPrefixTail = 1024
)

// Scanner finds balanced-brace fragments in a text stream, carrying partial
// fragments across chunk boundaries.
type Scanner struct {
	buf      []byte
	bufStart int64 // file offset of buf[0]
	pos      int   // index of first unconsumed byte
	log      *logging.Logger
}

// NewScanner creates a Scanner.
func NewScanner(log *logging.Logger) *Scanner {
	return &Scanner{log: log}
}

// Reset discards all carried state. Called after truncation or rotation.
func (s *Scanner) Reset() {
	s.buf = nil
	s.bufStart = 0
	s.pos = 0
}

// Append adds a chunk of newly read log bytes at the given file offset.
func (s *Scanner) Append(data []byte, offset int64) {
	if len(s.buf) == 0 {
		s.buf = append([]byte(nil), data...)
		s.bufStart = offset
		s.pos = 0
		return
	}
	s.buf = append(s.buf, data...)
}

// Next returns the next complete fragment, or ok=false when the buffer
// holds no complete fragment. An incomplete trailing fragment is retained
// for the next Append.
func (s *Scanner) Next() (RawFragment, bool) {
	for {
		rest := s.buf[s.pos:]
		start := bytes.IndexByte(rest, '{')
		if start < 0 {
			s.trimPlainTail()
			return RawFragment{}, false
		}
		start += s.pos

		end, complete := scanBalanced(s.buf[start:])
		if !complete {
			if len(s.buf)-start > maxFragmentBytes {
				s.log.Warnf("dropping oversized unterminated fragment at offset %d", s.bufStart+int64(start))
				s.pos = start + 1
				continue
			}
			s.compact()
			return RawFragment{}, false
		}

		frag := RawFragment{
			Text:   string(s.buf[start : start+end]),
			Prefix: string(s.buf[s.pos:start]),
			Offset: s.bufStart + int64(start),
		}
		s.pos = start + end
		return frag, true
	}
}

// scanBalanced walks data (starting at an opening brace) counting nested
// braces and honoring quoted-string escaping. It returns the length of the
// balanced fragment and whether the closing brace was found.
func scanBalanced(data []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}

	return 0, false
}

// compact drops consumed bytes so the retained partial fragment does not
// accumulate already-processed text.
func (s *Scanner) compact() {
	if s.pos == 0 {
		return
	}
	s.bufStart += int64(s.pos)
	s.buf = append([]byte(nil), s.buf[s.pos:]...)
	s.pos = 0
}

// trimPlainTail bounds retained plain text when no fragment has started.
// The tail is kept because a marker for the next fragment may already be in
// it, split from its record by the chunk boundary.
func (s *Scanner) trimPlainTail() {
	if len(s.buf)-s.pos > maxPrefixTail {
		s.pos = len(s.buf) - maxPrefixTail
	}
	s.compact()
}

// Package extract recovers a single string field from a JSON document that is
// still arriving in pieces and may never become valid JSON.
package extract

import (
	"bytes"
	"strings"
)

type scanState int

const (
	seekingKey scanState = iota
	seekingValue
	inValue
	done
)

func (s scanState) String() string {
	switch s {
	case seekingKey:
		return "seeking-key"
	case seekingValue:
		return "seeking-value"
	case inValue:
		return "in-value"
	case done:
		return "done"
	default:
		return "unknown"
	}
}

// Scanner looks for `"<field>"\s*:\s*"<value>"` in a growing buffer. The value
// ends at the first unescaped quote followed by optional whitespace and a comma,
// a closing brace or the end of the buffer. Bytes already examined are never
// scanned again.
type Scanner struct {
	key        []byte
	buf        []byte
	state      scanState
	pos        int
	keyStart   int
	sawColon   bool
	valueStart int
	value      string
}

// NewScanner returns a scanner for the named field.
func NewScanner(field string) *Scanner {
	return &Scanner{key: []byte(`"` + field + `"`)}
}

// Feed appends chunk and advances the scan. Once a value has been matched it is
// final; later chunks are only buffered.
func (s *Scanner) Feed(chunk string) (string, bool) {
	s.buf = append(s.buf, chunk...)
	if s.state != done {
		s.scan()
	}
	return s.value, s.state == done
}

// Buffered returns everything fed so far.
func (s *Scanner) Buffered() string {
	return string(s.buf)
}

func (s *Scanner) scan() {
	for {
		switch s.state {
		case seekingKey:
			idx := bytes.Index(s.buf[s.pos:], s.key)
			if idx < 0 {
				// a key may be split across chunks; keep its possible prefix
				if keep := len(s.buf) - len(s.key) + 1; keep > s.pos {
					s.pos = keep
				}
				return
			}
			s.keyStart = s.pos + idx
			s.pos = s.keyStart + len(s.key)
			s.sawColon = false
			s.state = seekingValue

		case seekingValue:
			if !s.scanSeparator() {
				return
			}

		case inValue:
			if !s.scanValue() {
				return
			}

		case done:
			return
		}
	}
}

// scanSeparator consumes `\s*:\s*"`. It reports false when more input is needed.
func (s *Scanner) scanSeparator() bool {
	for s.pos < len(s.buf) {
		c := s.buf[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == ':' && !s.sawColon:
			s.sawColon = true
			s.pos++
		case c == '"' && s.sawColon:
			s.pos++
			s.valueStart = s.pos
			s.state = inValue
			return true
		default:
			// not a field definition, look for the next occurrence of the key
			s.pos = s.keyStart + 1
			s.state = seekingKey
			return true
		}
	}
	return false
}

// scanValue walks the value looking for its closing quote. It reports false when
// more input is needed.
func (s *Scanner) scanValue() bool {
	for s.pos < len(s.buf) {
		switch s.buf[s.pos] {
		case '\\':
			if s.pos+1 >= len(s.buf) {
				return false
			}
			s.pos += 2
			continue
		case '"':
			if s.closesAt(s.pos + 1) {
				s.value = unescape(string(s.buf[s.valueStart:s.pos]))
				s.state = done
				return true
			}
		}
		s.pos++
	}
	return false
}

func (s *Scanner) closesAt(i int) bool {
	for i < len(s.buf) && isSpace(s.buf[i]) {
		i++
	}
	if i == len(s.buf) {
		return true
	}
	return s.buf[i] == ',' || s.buf[i] == '}'
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	default:
		return false
	}
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\"`, `"`, "\r", "")

func unescape(raw string) string {
	return strings.TrimSpace(unescaper.Replace(raw))
}

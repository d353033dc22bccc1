package extract

import (
	"strings"

	apperrors "aidesk/internal/errors"
)

// SummaryField is the field reconstructed from streamed answers.
const SummaryField = "summary"

// Apology is shown when an exchange ends without a usable summary.
const Apology = "We're experiencing technical difficulties, due to high traffic time, please try again in 20 minutes."

// diagnosticMarker flags provider output that is itself an error notice.
const diagnosticMarker = "technical difficulties"

// Buffer accumulates the chunks of one exchange and tracks the summary value.
type Buffer struct {
	field   string
	scanner *Scanner
	found   bool
	value   string
}

// NewBuffer returns an empty buffer for the summary field.
func NewBuffer() *Buffer {
	return newBuffer(SummaryField)
}

func newBuffer(field string) *Buffer {
	return &Buffer{field: field, scanner: NewScanner(field)}
}

// Append adds a chunk. It returns the value and true only on the chunk that
// first produced a match.
func (b *Buffer) Append(chunk string) (string, bool) {
	value, ok := b.scanner.Feed(chunk)
	if b.found || !ok || value == "" {
		return "", false
	}
	b.found = true
	b.value = value
	return value, true
}

// Found reports whether a summary has been matched.
func (b *Buffer) Found() bool {
	return b.found
}

// Value returns the matched summary, if any.
func (b *Buffer) Value() string {
	return b.value
}

// Raw returns the concatenation of every chunk appended so far.
func (b *Buffer) Raw() string {
	return b.scanner.Buffered()
}

// Finish resolves the exchange to displayable text. When no usable value was
// matched while streaming, the whole buffer is scanned once more; if that also
// fails the apology is returned together with a ProtocolAnomaly describing why.
func (b *Buffer) Finish() (string, error) {
	if b.found && usable(b.value) {
		return b.value, nil
	}

	value, ok := NewScanner(b.field).Feed(b.Raw())
	if ok && usable(value) {
		b.found = true
		b.value = value
		return value, nil
	}

	reason := "summary field missing"
	switch {
	case ok && value == "":
		reason = "summary field empty"
	case ok:
		reason = "summary reports provider difficulties"
	}
	return Apology, &apperrors.ProtocolAnomaly{Reason: reason, Fallback: Apology}
}

func usable(value string) bool {
	return value != "" && !strings.Contains(strings.ToLower(value), diagnosticMarker)
}

package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks against the typed hard failures
var (
	ErrRepairExhausted = errors.New("no insight records found")
	ErrStructural      = errors.New("malformed insight markup")
)

// contextRadius is the number of lines shown on each side of a structural error
const contextRadius = 2

// RepairExhaustedError means no record block could be isolated from the text.
// Raw keeps the original input for inspection.
type RepairExhaustedError struct {
	Raw    string
	Length int
}

// Error implements the error interface
func (e *RepairExhaustedError) Error() string {
	return fmt.Sprintf("%s in %d bytes of input", ErrRepairExhausted, e.Length)
}

// Is matches ErrRepairExhausted
func (e *RepairExhaustedError) Is(target error) bool {
	return target == ErrRepairExhausted
}

// StructuralError means the wrapped text is not a well-formed element tree.
// Line and Column are 1-based positions in Text, the text handed to the decoder.
type StructuralError struct {
	Line    int
	Column  int
	Message string
	Context []string
	Text    string
	Err     error
}

// Error implements the error interface
func (e *StructuralError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d, column %d: %s", ErrStructural, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrStructural, e.Message)
}

// Is matches ErrStructural
func (e *StructuralError) Is(target error) bool {
	return target == ErrStructural
}

// Unwrap returns the decoder error, if any
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// Excerpt renders the context window with a marker on the failing line and a
// caret under the failing column.
func (e *StructuralError) Excerpt() string {
	var b strings.Builder
	first := e.Line - contextRadius
	if first < 1 {
		first = 1
	}
	for i, line := range e.Context {
		n := first + i
		marker := "     "
		if n == e.Line {
			marker = " --> "
		}
		fmt.Fprintf(&b, "%sLine %3d: %s\n", marker, n, line)
		if n == e.Line && e.Column > 0 && e.Column <= len(line)+1 {
			fmt.Fprintf(&b, "%s^-- error here\n", strings.Repeat(" ", len(" --> Line   0: ")+e.Column-1))
		}
	}
	return b.String()
}

func newStructuralError(text string, offset int64, line int, msg string, err error) *StructuralError {
	offLine, col := locate(text, offset)
	if line <= 0 {
		line = offLine
	}
	if line != offLine {
		col = 1
	}
	return &StructuralError{
		Line:    line,
		Column:  col,
		Message: msg,
		Context: contextWindow(text, line),
		Text:    text,
		Err:     err,
	}
}

// locate converts a byte offset into a 1-based line and column
func locate(text string, offset int64) (int, int) {
	off := int(offset)
	if off < 0 {
		off = 0
	}
	if off > len(text) {
		off = len(text)
	}
	before := text[:off]
	line := strings.Count(before, "\n") + 1
	col := off - (strings.LastIndexByte(before, '\n') + 1) + 1
	return line, col
}

func contextWindow(text string, line int) []string {
	lines := strings.Split(text, "\n")
	start := line - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := line + contextRadius
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return nil
	}
	window := make([]string, end-start)
	copy(window, lines[start:end])
	return window
}

package repair

import (
	"fmt"
	"sort"
	"strings"

	"hra-insights/types"
)

// tagState is the position inside a candidate tag while scanning
type tagState int

const (
	stateOpen tagState = iota
	stateNameStart
	stateName
	stateSpace
	stateAttrName
	stateBeforeEq
	stateAfterEq
	stateAttrValue
	stateAfterValue
	stateSlash
)

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// scanTag reports the end (exclusive) of a tag starting at s[i] == '<', or -1
// when the text there does not have a conservative tag shape:
// optional leading slash, a name starting with a letter or underscore,
// whitespace-separated double-quoted attributes, optional trailing slash.
func scanTag(s string, i int) int {
	if i >= len(s) || s[i] != '<' {
		return -1
	}
	state := stateOpen
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch state {
		case stateOpen:
			if c == '/' {
				state = stateNameStart
				continue
			}
			if !isNameStart(c) {
				return -1
			}
			state = stateName
		case stateNameStart:
			if !isNameStart(c) {
				return -1
			}
			state = stateName
		case stateName:
			switch {
			case isNameChar(c):
			case isSpace(c):
				state = stateSpace
			case c == '/':
				state = stateSlash
			case c == '>':
				return j + 1
			default:
				return -1
			}
		case stateSpace:
			switch {
			case isSpace(c):
			case isNameStart(c):
				state = stateAttrName
			case c == '/':
				state = stateSlash
			case c == '>':
				return j + 1
			default:
				return -1
			}
		case stateAttrName:
			switch {
			case isNameChar(c):
			case isSpace(c):
				state = stateBeforeEq
			case c == '=':
				state = stateAfterEq
			default:
				return -1
			}
		case stateBeforeEq:
			switch {
			case isSpace(c):
			case c == '=':
				state = stateAfterEq
			default:
				return -1
			}
		case stateAfterEq:
			switch {
			case isSpace(c):
			case c == '"':
				state = stateAttrValue
			default:
				return -1
			}
		case stateAttrValue:
			if c == '"' {
				state = stateAfterValue
			}
		case stateAfterValue:
			switch {
			case isSpace(c):
				state = stateSpace
			case c == '/':
				state = stateSlash
			case c == '>':
				return j + 1
			default:
				return -1
			}
		case stateSlash:
			if c == '>' {
				return j + 1
			}
			return -1
		}
	}
	return -1
}

var namedEntities = []string{"amp;", "lt;", "gt;", "quot;", "apos;"}

// entityLen returns the length of a named entity reference at s[i] == '&',
// or 0. Numeric references are not recognized and get their '&' escaped.
func entityLen(s string, i int) int {
	rest := s[i+1:]
	for _, name := range namedEntities {
		if strings.HasPrefix(rest, name) {
			return len(name) + 1
		}
	}
	return 0
}

// Escape walks the text once, alternating between tag and text regions, and
// escapes '&', '<' and '>' that are not part of a recognized tag or entity.
func Escape(s string) (string, []types.Fix) {
	var b strings.Builder
	b.Grow(len(s) + len(s)/16)

	perLine := make(map[int]map[byte]int)
	note := func(line int, c byte) {
		if perLine[line] == nil {
			perLine[line] = make(map[byte]int)
		}
		perLine[line][c]++
	}

	line := 1
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '<':
			if end := scanTag(s, i); end > 0 {
				tag := s[i:end]
				b.WriteString(tag)
				line += strings.Count(tag, "\n")
				i = end
				continue
			}
			b.WriteString("&lt;")
			note(line, c)
		case '>':
			b.WriteString("&gt;")
			note(line, c)
		case '&':
			if n := entityLen(s, i); n > 0 {
				b.WriteString(s[i : i+n])
				i += n
				continue
			}
			b.WriteString("&amp;")
			note(line, c)
		case '\n':
			b.WriteByte(c)
			line++
		default:
			b.WriteByte(c)
		}
		i++
	}

	return b.String(), escapeFixes(perLine)
}

func escapeFixes(perLine map[int]map[byte]int) []types.Fix {
	if len(perLine) == 0 {
		return nil
	}
	lines := make([]int, 0, len(perLine))
	for line := range perLine {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	fixes := make([]types.Fix, 0, len(lines))
	for _, line := range lines {
		counts := perLine[line]
		total := 0
		var chars []string
		for _, c := range []byte{'&', '<', '>'} {
			if counts[c] > 0 {
				total += counts[c]
				chars = append(chars, string(c))
			}
		}
		fixes = append(fixes, types.Fix{
			Kind:        types.FixEscape,
			Line:        line,
			Description: fmt.Sprintf("line %d: escaped %d unsafe character(s) (%s)", line, total, strings.Join(chars, ", ")),
		})
	}
	return fixes
}

package repair

import (
	"fmt"
	"strings"

	"hra-insights/types"
)

// tagToken is one recognized tag in escaped text
type tagToken struct {
	start, end  int
	line        int
	name        string
	closing     bool
	selfClosing bool
}

// tokenize lists the tags of text in document order. Text that is not a tag
// shape is skipped, so the pass is meant to run after Escape.
func tokenize(text string) []tagToken {
	var tokens []tagToken
	line := 1
	last := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '<' {
			continue
		}
		end := scanTag(text, i)
		if end < 0 {
			continue
		}
		line += strings.Count(text[last:i], "\n")
		last = i

		tok := tagToken{start: i, end: end, line: line}
		body := text[i+1 : end-1]
		if strings.HasPrefix(body, "/") {
			tok.closing = true
			body = body[1:]
		}
		if strings.HasSuffix(body, "/") {
			tok.selfClosing = true
		}
		n := 0
		for n < len(body) && isNameChar(body[n]) {
			n++
		}
		tok.name = body[:n]
		tokens = append(tokens, tok)
		i = end - 1
	}
	return tokens
}

type openTag struct {
	name string
	line int
}

func (r *Repairer) pairFor(open, closing string) (TagPair, bool) {
	for _, p := range r.pairs {
		if p.Field == open && p.Stray == closing {
			return p, true
		}
	}
	return TagPair{}, false
}

// openingAhead reports whether an opening tag named name follows tokens[idx]
// within the lookahead window.
func (r *Repairer) openingAhead(tokens []tagToken, idx int, name string) bool {
	limit := tokens[idx].line + r.lookahead
	for _, tok := range tokens[idx+1:] {
		if tok.line > limit {
			return false
		}
		if !tok.closing && !tok.selfClosing && tok.name == name {
			return true
		}
	}
	return false
}

// FixMismatchedTags rewrites a stray closing tag for field B into the closing
// tag of field A when A is still open and B is opened again shortly after.
// Anything else that does not match the pattern is left alone.
func (r *Repairer) FixMismatchedTags(text string) (string, []types.Fix) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		stack        []openTag
		fixes        []types.Fix
		replacements = make(map[int]string)
	)

	for idx, tok := range tokens {
		if tok.selfClosing {
			continue
		}
		if !tok.closing {
			stack = append(stack, openTag{name: tok.name, line: tok.line})
			continue
		}
		if len(stack) == 0 {
			continue
		}

		top := stack[len(stack)-1]
		if top.name == tok.name {
			stack = stack[:len(stack)-1]
			continue
		}

		if pair, ok := r.pairFor(top.name, tok.name); ok {
			fields := map[string]interface{}{
				"line":      tok.line,
				"open_tag":  top.name,
				"open_line": top.line,
				"stray_tag": tok.name,
				"lookahead": r.lookahead,
				"lookback":  r.lookback,
			}
			switch {
			case tok.line-top.line > r.lookback:
				r.log("stray closing tag too far from its open field, left unchanged", fields)
			case !r.openingAhead(tokens, idx, pair.Stray):
				r.log("stray closing tag not followed by its own opening tag, left unchanged", fields)
			default:
				replacements[idx] = "</" + pair.Field + ">"
				fixes = append(fixes, types.Fix{
					Kind:        types.FixMismatchedTag,
					Line:        tok.line,
					Description: fmt.Sprintf("line %d: replaced closing tag </%s> with </%s>", tok.line, tok.name, pair.Field),
				})
				stack = stack[:len(stack)-1]
				continue
			}
		}

		// Unwind to the matching open tag if there is one; otherwise ignore the stray close.
		for k := len(stack) - 1; k >= 0; k-- {
			if stack[k].name == tok.name {
				stack = stack[:k]
				break
			}
		}
	}

	if len(replacements) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for idx, tok := range tokens {
		repl, ok := replacements[idx]
		if !ok {
			continue
		}
		b.WriteString(text[last:tok.start])
		b.WriteString(repl)
		last = tok.end
	}
	b.WriteString(text[last:])
	return b.String(), fixes
}

// CloseRoot appends the root closing tag when the root is opened but never closed
func CloseRoot(text string) (string, []types.Fix) {
	opened, closed := false, false
	for _, tok := range tokenize(text) {
		if tok.name != RootTag || tok.selfClosing {
			continue
		}
		if tok.closing {
			closed = true
		} else {
			opened = true
		}
	}
	if !opened || closed {
		return text, nil
	}
	line := strings.Count(text, "\n") + 2
	return text + "\n</" + RootTag + ">", []types.Fix{{
		Kind:        types.FixMissingClose,
		Line:        line,
		Description: fmt.Sprintf("line %d: appended missing closing tag </%s>", line, RootTag),
	}}
}

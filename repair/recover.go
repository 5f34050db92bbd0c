package repair

import (
	"fmt"
	"regexp"
	"strings"

	"hra-insights/types"
)

// balanceTags are checked by CheckBalance
var balanceTags = []string{
	RootTag, RecordTag, MessageTag, TranslationTag,
	CategoriesTag, HealthTag, DemographicTag, ProofTag,
}

// Recoverer is the manual recovery workflow for text that already failed
// structural parsing, usually a dump written by the debug sink.
type Recoverer struct {
	repairer *Repairer
}

// NewRecoverer creates a Recoverer that shares the repairer's heuristics
func NewRecoverer(r *Repairer) *Recoverer {
	if r == nil {
		r = NewRepairer(Options{})
	}
	return &Recoverer{repairer: r}
}

// Diagnose lists suspected structural problems without changing anything
func (rc *Recoverer) Diagnose(text string) []string {
	var issues []string

	opens := strings.Count(text, "<"+MessageTag+">")
	closes := strings.Count(text, "</"+MessageTag+">")
	if opens != closes {
		issues = append(issues, fmt.Sprintf("Mismatched <%s> tags: %d opens, %d closes", MessageTag, opens, closes))
	}

	opens = strings.Count(text, "<"+TranslationTag)
	closes = strings.Count(text, "</"+TranslationTag+">")
	if opens != closes {
		issues = append(issues, fmt.Sprintf("Mismatched <%s> tags: %d opens, %d closes", TranslationTag, opens, closes))
	}

	inMessage := false
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "<"+MessageTag+">") {
			inMessage = true
		}
		if inMessage && strings.Contains(line, "</"+TranslationTag+">") && !strings.Contains(line, "</"+MessageTag+">") {
			issues = append(issues, fmt.Sprintf("Line %d: Found </%s> inside <%s> block (missing </%s>)", i+1, TranslationTag, MessageTag, MessageTag))
		}
		if strings.Contains(line, "</"+MessageTag+">") {
			inMessage = false
		}
	}

	return issues
}

// Recover applies the mismatched-tag pass, closes unclosed message elements and
// the root. Text with a clean diagnosis is returned untouched.
func (rc *Recoverer) Recover(text string) (string, []types.Fix) {
	if len(rc.Diagnose(text)) == 0 {
		return text, nil
	}

	fixed, fixes := rc.repairer.FixMismatchedTags(text)

	fixed, more := closeUnclosedMessages(fixed)
	fixes = append(fixes, more...)

	fixed, more = CloseRoot(fixed)
	fixes = append(fixes, more...)

	return fixed, fixes
}

var (
	translationOpen = regexp.MustCompile(`<` + TranslationTag + `[\s>]`)
	categoriesOpen  = regexp.MustCompile(`<` + CategoriesTag + `>`)
)

// closeUnclosedMessages inserts </message> before the translation (or the
// categories) of any record that opens a message but never closes it.
func closeUnclosedMessages(text string) (string, []types.Fix) {
	locs := recordPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text, nil
	}

	var (
		b     strings.Builder
		fixes []types.Fix
		last  int
	)
	for n, loc := range locs {
		block := text[loc[0]:loc[1]]
		b.WriteString(text[last:loc[0]])
		last = loc[1]

		if !strings.Contains(block, "<"+MessageTag+">") || strings.Contains(block, "</"+MessageTag+">") {
			b.WriteString(block)
			continue
		}

		anchor, before := translationOpen.FindStringIndex(block), TranslationTag
		if anchor == nil {
			anchor, before = categoriesOpen.FindStringIndex(block), CategoriesTag
		}
		if anchor == nil {
			b.WriteString(block)
			continue
		}

		at := anchor[0]
		for at > 0 && isSpace(block[at-1]) {
			at--
		}
		b.WriteString(block[:at])
		b.WriteString("\n</" + MessageTag + ">")
		b.WriteString(block[at:])
		fixes = append(fixes, types.Fix{
			Kind:        types.FixMissingClose,
			Description: fmt.Sprintf("insight #%d: added missing </%s> before <%s>", n+1, MessageTag, before),
		})
	}
	b.WriteString(text[last:])

	if len(fixes) == 0 {
		return text, nil
	}
	return b.String(), fixes
}

// CheckBalance reports tags whose open and close counts differ
func CheckBalance(text string) []string {
	var issues []string
	for _, tag := range balanceTags {
		open := regexp.MustCompile(`<` + tag + `(?:\s[^>]*)?>`)
		opens := len(open.FindAllStringIndex(text, -1))
		closes := strings.Count(text, "</"+tag+">")
		if opens != closes {
			issues = append(issues, fmt.Sprintf("Tag <%s>: %d opens, %d closes", tag, opens, closes))
		}
	}
	return issues
}

// Package repair turns free-form model output into text a strict XML parser can
// consume. It isolates insight blocks, escapes stray markup characters and
// patches one known tag mix-up, recording every change it makes.
package repair

import (
	"regexp"
	"strings"

	"hra-insights/types"
)

// Element names of the insight grammar
const (
	RootTag        = "insights"
	RecordTag      = "insight"
	MessageTag     = "message"
	ProofTag       = "proof"
	TranslationTag = "summary_tr"
	CategoriesTag  = "categories"
	HealthTag      = "health_tags"
	DemographicTag = "demographic_tags"
)

var (
	fencePattern  = regexp.MustCompile("```[A-Za-z0-9_+.-]*[ \t]*\n?")
	recordPattern = regexp.MustCompile(`(?s)<insight(?:\s[^>]*)?>.*?</insight\s*>`)
)

// TagPair names a field whose closing tag is sometimes replaced by the
// closing tag of the field that follows it.
type TagPair struct {
	Field string `yaml:"field"`
	Stray string `yaml:"stray"`
}

// DefaultTagPairs covers the message / translation mix-up
func DefaultTagPairs() []TagPair {
	return []TagPair{{Field: MessageTag, Stray: TranslationTag}}
}

// LogFunc receives notes about repairs that were considered but skipped
type LogFunc func(message string, fields map[string]interface{})

// Options tunes the heuristic passes
type Options struct {
	TagPairs       []TagPair
	LookaheadLines int
	LookbackLines  int
	Log            LogFunc
}

// Default heuristic windows
const (
	DefaultLookaheadLines = 4
	DefaultLookbackLines  = 50
)

// Repairer applies the repair stages in order. It holds no per-document state.
type Repairer struct {
	pairs     []TagPair
	lookahead int
	lookback  int
	log       LogFunc
}

// NewRepairer creates a Repairer, filling unset options with defaults
func NewRepairer(opts Options) *Repairer {
	r := &Repairer{
		pairs:     opts.TagPairs,
		lookahead: opts.LookaheadLines,
		lookback:  opts.LookbackLines,
		log:       opts.Log,
	}
	if len(r.pairs) == 0 {
		r.pairs = DefaultTagPairs()
	}
	if r.lookahead <= 0 {
		r.lookahead = DefaultLookaheadLines
	}
	if r.lookback <= 0 {
		r.lookback = DefaultLookbackLines
	}
	if r.log == nil {
		r.log = func(string, map[string]interface{}) {}
	}
	return r
}

// Result is the repaired text plus the ordered fix log
type Result struct {
	Text    string
	Fixes   []types.Fix
	Records int
}

// Repair runs fence stripping, record isolation, root wrapping, escaping, the
// mismatched-tag pass and the missing-root check. When no record block exists
// the input is returned unchanged with Records == 0.
func (r *Repairer) Repair(raw string) Result {
	blocks := IsolateRecords(StripFences(raw))
	if len(blocks) == 0 {
		return Result{Text: raw}
	}

	text, fixes := Escape(Wrap(blocks))

	text, more := r.FixMismatchedTags(text)
	fixes = append(fixes, more...)

	text, more = CloseRoot(text)
	fixes = append(fixes, more...)

	return Result{Text: text, Fixes: fixes, Records: len(blocks)}
}

// StripFences removes markdown code fence delimiters, keeping their content
func StripFences(text string) string {
	return fencePattern.ReplaceAllString(text, "")
}

// IsolateRecords returns every <insight>...</insight> block, shortest match first
func IsolateRecords(text string) []string {
	return recordPattern.FindAllString(text, -1)
}

// HasRecords reports whether at least one record block is present
func HasRecords(text string) bool {
	return recordPattern.MatchString(StripFences(text))
}

// Wrap joins record blocks under a single synthetic root element
func Wrap(blocks []string) string {
	return "<" + RootTag + ">\n" + strings.Join(blocks, "\n") + "\n</" + RootTag + ">"
}

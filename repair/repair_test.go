package repair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hra-insights/types"
)

const wellFormed = `<insights>
<insight>
<message>Good sleep &amp; rest</message>
<summary_tr score="7">İyi</summary_tr>
<categories>- sleep</categories>
<health_tags></health_tags>
<demographic_tags></demographic_tags>
</insight>
</insights>`

func TestScanTag(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"<message>", 9},
		{"</message>", 10},
		{`<summary_tr score="7">`, 22},
		{`<summary_tr score = "7" lang="tr">`, 34},
		{"<br/>", 5},
		{"<br />", 6},
		{"<_x1>", 5},
		{"< 5", -1},
		{"<5>", -1},
		{"<a b>", -1},
		{`<a b='x'>`, -1},
		{`<a b="x"c="y">`, -1},
		{"<message", -1},
		{"<", -1},
		{"<a-b>", -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, scanTag(tt.input, 0))
		})
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		wantFixes int
	}{
		{
			name:  "no special characters",
			input: "<message>plain</message>",
			want:  "<message>plain</message>",
		},
		{
			name:      "bare ampersand",
			input:     "<message>A & B</message>",
			want:      "<message>A &amp; B</message>",
			wantFixes: 1,
		},
		{
			name:  "existing entities kept",
			input: "<message>A &amp; B &lt; C &quot; &apos;</message>",
			want:  "<message>A &amp; B &lt; C &quot; &apos;</message>",
		},
		{
			name:      "numeric references escaped",
			input:     "<message>ratio &#0; and Q&#38;A &#x26;</message>",
			want:      "<message>ratio &amp;#0; and Q&amp;#38;A &amp;#x26;</message>",
			wantFixes: 1,
		},
		{
			name:      "comparison operators",
			input:     "<message>age < 30 and BMI > 25</message>",
			want:      "<message>age &lt; 30 and BMI &gt; 25</message>",
			wantFixes: 1,
		},
		{
			name:      "no tags at all",
			input:     "x < y & z",
			want:      "x &lt; y &amp; z",
			wantFixes: 1,
		},
		{
			name:      "issues on two lines",
			input:     "<message>a & b\nc < d</message>",
			want:      "<message>a &amp; b\nc &lt; d</message>",
			wantFixes: 2,
		},
		{
			name:  "attributes untouched",
			input: `<summary_tr score="7">x</summary_tr>`,
			want:  `<summary_tr score="7">x</summary_tr>`,
		},
		{
			name:      "multibyte text kept",
			input:     "<message>Sigara & alkol — İyi</message>",
			want:      "<message>Sigara &amp; alkol — İyi</message>",
			wantFixes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fixes := Escape(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Len(t, fixes, tt.wantFixes)
			for _, f := range fixes {
				assert.Equal(t, types.FixEscape, f.Kind)
			}
		})
	}
}

func TestEscapeFixDescribesLine(t *testing.T) {
	_, fixes := Escape("<a>\nok\nx & y < z</a>")
	require.Len(t, fixes, 1)
	assert.Equal(t, 3, fixes[0].Line)
	assert.Equal(t, "line 3: escaped 2 unsafe character(s) (&, <)", fixes[0].Description)
}

func TestStripFences(t *testing.T) {
	input := "Here you go:\n```xml\n<insight>x</insight>\n```\nDone"
	assert.Equal(t, "Here you go:\n<insight>x</insight>\nDone", StripFences(input))
	assert.Equal(t, "<insight>x</insight>\n", StripFences("```\n<insight>x</insight>\n```"))
}

func TestIsolateRecords(t *testing.T) {
	input := "intro\n<insight>one</insight> middle <insight>\ntwo\n</insight>\noutro <insights>"
	blocks := IsolateRecords(input)
	require.Len(t, blocks, 2)
	assert.Equal(t, "<insight>one</insight>", blocks[0])
	assert.Equal(t, "<insight>\ntwo\n</insight>", blocks[1])
	assert.Empty(t, IsolateRecords("<insights></insights>"))
}

func TestRepairNoRecordsReturnsInputUnchanged(t *testing.T) {
	r := NewRepairer(Options{})
	for _, input := range []string{"", "just prose", "a < b & c", "<message>orphan</message>"} {
		res := r.Repair(input)
		assert.Equal(t, input, res.Text)
		assert.Empty(t, res.Fixes)
		assert.Equal(t, 0, res.Records)
	}
}

func TestRepairIsIdempotentOnWellFormedInput(t *testing.T) {
	r := NewRepairer(Options{})
	first := r.Repair(wellFormed)
	assert.Empty(t, first.Fixes)
	assert.Equal(t, 1, first.Records)
	assert.Equal(t, wellFormed, first.Text)

	second := r.Repair(first.Text)
	assert.Empty(t, second.Fixes)
	assert.Equal(t, first.Text, second.Text)
}

func TestRepairWrapsProseAndFences(t *testing.T) {
	raw := "Sure! Here are the insights.\n```xml\n<insight><message>A</message></insight>\n<insight><message>B & C</message></insight>\n```\nLet me know."
	res := NewRepairer(Options{}).Repair(raw)

	assert.Equal(t, 2, res.Records)
	assert.Equal(t, "<insights>\n<insight><message>A</message></insight>\n<insight><message>B &amp; C</message></insight>\n</insights>", res.Text)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, 3, res.Fixes[0].Line)
}

func TestRepairMismatchedTag(t *testing.T) {
	raw := `<insight>
<message>
Sleep quality drops after 50
</summary_tr>
<summary_tr score="8">
Uyku kalitesi 50 yaştan sonra düşüyor
</summary_tr>
<categories>
- sleep
</categories>
</insight>`

	res := NewRepairer(Options{}).Repair(raw)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, types.FixMismatchedTag, res.Fixes[0].Kind)
	assert.Equal(t, "line 5: replaced closing tag </summary_tr> with </message>", res.Fixes[0].Description)
	assert.Contains(t, res.Text, "<message>\nSleep quality drops after 50\n</message>\n<summary_tr score=\"8\">")
	assert.Equal(t, 1, strings.Count(res.Text, "</summary_tr>"))
}

func TestFixMismatchedTagsSameLine(t *testing.T) {
	r := NewRepairer(Options{})
	text := `<insight><message>x</summary_tr><summary_tr score="2">y</summary_tr></insight>`
	fixed, fixes := r.FixMismatchedTags(text)
	require.Len(t, fixes, 1)
	assert.Equal(t, `<insight><message>x</message><summary_tr score="2">y</summary_tr></insight>`, fixed)
}

func TestFixMismatchedTagsSkipsAmbiguousCases(t *testing.T) {
	var notes []string
	r := NewRepairer(Options{Log: func(msg string, _ map[string]interface{}) { notes = append(notes, msg) }})

	t.Run("no opening tag ahead", func(t *testing.T) {
		notes = nil
		text := "<insight><message>x</summary_tr>\n<categories>- a</categories></insight>"
		fixed, fixes := r.FixMismatchedTags(text)
		assert.Empty(t, fixes)
		assert.Equal(t, text, fixed)
		require.Len(t, notes, 1)
		assert.Contains(t, notes[0], "not followed")
	})

	t.Run("opening tag beyond the window", func(t *testing.T) {
		notes = nil
		text := "<insight><message>x</summary_tr>\n\n\n\n\n\n<summary_tr score=\"1\">y</summary_tr></insight>"
		_, fixes := r.FixMismatchedTags(text)
		assert.Empty(t, fixes)
		assert.Len(t, notes, 1)
	})

	t.Run("pair not configured", func(t *testing.T) {
		notes = nil
		text := "<insight><proof>x</summary_tr><summary_tr>y</summary_tr></insight>"
		_, fixes := r.FixMismatchedTags(text)
		assert.Empty(t, fixes)
		assert.Empty(t, notes)
	})

	t.Run("well formed text", func(t *testing.T) {
		notes = nil
		fixed, fixes := r.FixMismatchedTags(wellFormed)
		assert.Empty(t, fixes)
		assert.Equal(t, wellFormed, fixed)
	})
}

func TestFixMismatchedTagsCustomPair(t *testing.T) {
	r := NewRepairer(Options{TagPairs: []TagPair{{Field: "proof", Stray: "summary_tr"}}, LookaheadLines: 1})
	text := "<insight><proof>x</summary_tr>\n<summary_tr>y</summary_tr></insight>"
	fixed, fixes := r.FixMismatchedTags(text)
	require.Len(t, fixes, 1)
	assert.Equal(t, "<insight><proof>x</proof>\n<summary_tr>y</summary_tr></insight>", fixed)
}

func TestCloseRoot(t *testing.T) {
	fixed, fixes := CloseRoot("<insights>\n<insight></insight>")
	require.Len(t, fixes, 1)
	assert.Equal(t, "<insights>\n<insight></insight>\n</insights>", fixed)
	assert.Equal(t, types.FixMissingClose, fixes[0].Kind)
	assert.Equal(t, "line 3: appended missing closing tag </insights>", fixes[0].Description)

	same, none := CloseRoot(wellFormed)
	assert.Equal(t, wellFormed, same)
	assert.Empty(t, none)

	noRoot, none := CloseRoot("<insight></insight>")
	assert.Equal(t, "<insight></insight>", noRoot)
	assert.Empty(t, none)
}

func TestTokenizeLines(t *testing.T) {
	tokens := tokenize("<a>\n<b x=\"1\n2\">\n</b>\n</a>")
	require.Len(t, tokens, 4)
	assert.Equal(t, []int{1, 2, 4, 5}, []int{tokens[0].line, tokens[1].line, tokens[2].line, tokens[3].line})
	assert.True(t, tokens[2].closing)
	assert.Equal(t, "b", tokens[1].name)
}

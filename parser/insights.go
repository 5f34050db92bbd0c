// Package parser extracts insight records from repaired markup. It decodes the
// text with a strict XML decoder and maps every <insight> child of the root to a
// fixed-shape types.Insight.
package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"hra-insights/repair"
	"hra-insights/types"
)

var (
	blankLines = regexp.MustCompile(`\n\s*\n`)
	horizontal = regexp.MustCompile(`[ \t]+`)
)

// Field paths used in anomalies
const (
	FieldScore       = "turkish.score"
	FieldMessage     = "english.message"
	FieldProof       = "english.proof"
	FieldTranslation = "turkish.message"
	FieldCategories  = "categories"
	FieldHealth      = "health_tags"
	FieldDemographic = "demographic_tags"
)

type xmlText struct {
	Text string `xml:",chardata"`
}

type xmlTranslation struct {
	Text  string     `xml:",chardata"`
	Attrs []xml.Attr `xml:",any,attr"`
}

type xmlRecord struct {
	Message     []xmlText        `xml:"message"`
	Proof       []xmlText        `xml:"proof"`
	Translation []xmlTranslation `xml:"summary_tr"`
	Categories  []xmlText        `xml:"categories"`
	Health      []xmlText        `xml:"health_tags"`
	Demographic []xmlText        `xml:"demographic_tags"`
}

type xmlDocument struct {
	XMLName xml.Name    `xml:"insights"`
	Records []xmlRecord `xml:"insight"`
}

// Result is the ordered record list plus non-fatal extraction anomalies
type Result struct {
	Insights  []types.Insight
	Anomalies []types.FieldAnomaly
}

// Parser converts repaired text into insight records. It is stateless and safe
// for concurrent use.
type Parser struct{}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

var defaultParser = NewParser()

// Parse uses the package default parser
func Parse(text string) (*Result, error) {
	return defaultParser.Parse(text)
}

// Parse decodes text into insights in document order. It fails with
// *RepairExhaustedError when no record block is present and with
// *StructuralError when the text is not a well-formed tree. No partial result
// is returned on failure.
func (p *Parser) Parse(text string) (*Result, error) {
	if !repair.HasRecords(text) {
		return nil, &RepairExhaustedError{Raw: text, Length: len(text)}
	}

	body := rooted(strings.TrimSpace(repair.StripFences(text)))

	doc, err := decode(body)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Insights:  make([]types.Insight, 0, len(doc.Records)),
		Anomalies: []types.FieldAnomaly{},
	}
	for i, rec := range doc.Records {
		insight, anomalies := extract(rec, i+1)
		result.Insights = append(result.Insights, insight)
		result.Anomalies = append(result.Anomalies, anomalies...)
	}
	return result, nil
}

// rooted wraps text in the root element unless it already starts with one
func rooted(text string) string {
	if strings.HasPrefix(text, "<?xml") ||
		strings.HasPrefix(text, "<"+repair.RootTag+">") ||
		strings.HasPrefix(text, "<"+repair.RootTag+" ") {
		return text
	}
	return "<" + repair.RootTag + ">\n" + text + "\n</" + repair.RootTag + ">"
}

func decode(text string) (*xmlDocument, error) {
	d := xml.NewDecoder(strings.NewReader(text))
	d.Strict = true

	var doc xmlDocument
	if err := d.Decode(&doc); err != nil {
		return nil, structuralFrom(text, d.InputOffset(), err)
	}

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, structuralFrom(text, d.InputOffset(), err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(strings.TrimSpace(string(t))) == 0 {
				continue
			}
			return nil, newStructuralError(text, d.InputOffset(), 0, "unexpected text after the root element", nil)
		case xml.StartElement:
			return nil, newStructuralError(text, d.InputOffset(), 0,
				fmt.Sprintf("unexpected element <%s> after the root element", t.Name.Local), nil)
		case xml.EndElement:
			return nil, newStructuralError(text, d.InputOffset(), 0,
				fmt.Sprintf("unexpected closing tag </%s> after the root element", t.Name.Local), nil)
		}
	}
	return &doc, nil
}

func structuralFrom(text string, offset int64, err error) *StructuralError {
	var syntax *xml.SyntaxError
	if errors.As(err, &syntax) {
		return newStructuralError(text, offset, syntax.Line, syntax.Msg, err)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return newStructuralError(text, offset, 0, "unexpected end of input", err)
	}
	return newStructuralError(text, offset, 0, err.Error(), err)
}

func extract(rec xmlRecord, index int) (types.Insight, []types.FieldAnomaly) {
	id := types.InsightID(index)
	var anomalies []types.FieldAnomaly
	repeated := func(field string, n int) {
		if n > 1 {
			anomalies = append(anomalies, types.FieldAnomaly{
				InsightID: id,
				Field:     field,
				Value:     fmt.Sprintf("%d elements", n),
				Reason:    "repeated element, first one kept",
			})
		}
	}

	insight := types.Insight{
		ID:    id,
		Index: index,
	}

	repeated(FieldMessage, len(rec.Message))
	if len(rec.Message) > 0 {
		insight.English.Message = CleanText(rec.Message[0].Text)
	}

	repeated(FieldProof, len(rec.Proof))
	if len(rec.Proof) > 0 {
		insight.English.Proof = CleanText(rec.Proof[0].Text)
	}

	repeated(FieldTranslation, len(rec.Translation))
	if len(rec.Translation) > 0 {
		tr := rec.Translation[0]
		insight.Turkish.Message = CleanText(tr.Text)
		if raw := attr(tr.Attrs, "score"); raw != "" {
			insight.Turkish.Score = types.ParseScore(raw)
			if insight.Turkish.Score.Invalid() {
				anomalies = append(anomalies, types.FieldAnomaly{
					InsightID: id,
					Field:     FieldScore,
					Value:     raw,
					Reason:    scoreReason(raw),
				})
			}
		}
	}

	repeated(FieldCategories, len(rec.Categories))
	insight.Categories = firstList(rec.Categories)
	repeated(FieldHealth, len(rec.Health))
	insight.HealthTags = firstList(rec.Health)
	repeated(FieldDemographic, len(rec.Demographic))
	insight.DemographicTags = firstList(rec.Demographic)

	return insight, anomalies
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func scoreReason(raw string) string {
	if _, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return fmt.Sprintf("out of range %d-%d", types.ScoreMin, types.ScoreMax)
	}
	return "not an integer"
}

func firstList(elems []xmlText) []string {
	if len(elems) == 0 {
		return []string{}
	}
	return ParseList(elems[0].Text)
}

// CleanText collapses runs of blank lines to one blank line and runs of spaces
// or tabs to one space, then trims the result.
func CleanText(text string) string {
	text = blankLines.ReplaceAllString(strings.TrimSpace(text), "\n\n")
	return horizontal.ReplaceAllString(text, " ")
}

// ParseList splits list content into items. "- " bullets are stripped, other
// non-empty lines are items as written, and lines starting with a bare dash
// are dropped.
func ParseList(text string) []string {
	items := []string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			items = append(items, strings.TrimSpace(line[2:]))
		case line != "" && !strings.HasPrefix(line, "-"):
			items = append(items, line)
		}
	}
	return items
}

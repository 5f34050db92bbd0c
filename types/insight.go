package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Score bounds for the translated summary
const (
	ScoreMin = 1
	ScoreMax = 10
)

// Score is the numeric attribute on the translation element.
// Value is nil when the attribute is absent, not an integer, or out of range.
type Score struct {
	Present bool
	Raw     string
	Value   *int
}

// ParseScore interprets a raw attribute value. Out-of-range and non-numeric
// values are kept as present-but-invalid, never clamped.
func ParseScore(raw string) Score {
	score := Score{Present: true, Raw: raw}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < ScoreMin || n > ScoreMax {
		return score
	}
	score.Value = &n
	return score
}

// ScoreOf builds a valid score, mostly for tests and fixtures
func ScoreOf(n int) Score {
	return Score{Present: true, Raw: strconv.Itoa(n), Value: &n}
}

// Invalid reports whether the attribute was given but could not be accepted
func (s Score) Invalid() bool {
	if !s.Present {
		return false
	}
	return s.Value == nil || *s.Value < ScoreMin || *s.Value > ScoreMax
}

// Int returns the score and whether it is usable
func (s Score) Int() (int, bool) {
	if s.Value == nil || s.Invalid() {
		return 0, false
	}
	return *s.Value, true
}

// MarshalJSON renders the score as a number or null
func (s Score) MarshalJSON() ([]byte, error) {
	if v, ok := s.Int(); ok {
		return []byte(strconv.Itoa(v)), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a number or null
func (s *Score) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = Score{}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("score must be an integer or null: %w", err)
	}
	*s = ParseScore(strconv.Itoa(n))
	return nil
}

// English holds the source-language narrative
type English struct {
	Message string `json:"message"`
	Proof   string `json:"proof"`
}

// Turkish holds the translated summary and its score
type Turkish struct {
	Message string `json:"message"`
	Score   Score  `json:"score"`
}

// Insight is one extracted record. ID and Index follow document order starting at 1.
type Insight struct {
	ID              string       `json:"id"`
	Index           int          `json:"index"`
	English         English      `json:"english"`
	Turkish         Turkish      `json:"turkish"`
	Categories      []string     `json:"categories"`
	HealthTags      []string     `json:"health_tags"`
	DemographicTags []string     `json:"demographic_tags"`
	TargetGroup     *TargetGroup `json:"target_group,omitempty"`
}

// InsightID formats the stable identifier for a 1-based position
func InsightID(index int) string {
	return fmt.Sprintf("insight_%02d", index)
}

// TargetGroup describes the population an insight's tags select
type TargetGroup struct {
	Size            int      `json:"size"`
	Percentage      float64  `json:"percentage"`
	FiltersApplied  []string `json:"filters_applied"`
	TotalPopulation int      `json:"total_population"`
	UnknownTags     []string `json:"unknown_tags,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// FieldAnomaly is a non-fatal per-field problem found during extraction
type FieldAnomaly struct {
	InsightID string `json:"insight_id"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
}

func (a FieldAnomaly) String() string {
	return fmt.Sprintf("%s: %s %q %s", a.InsightID, a.Field, a.Value, a.Reason)
}

// Fix is one correction applied while repairing a document
type Fix struct {
	Kind        string `json:"kind"`
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
}

func (f Fix) String() string {
	return f.Description
}

// Fix kinds
const (
	FixEscape        = "escape"
	FixMismatchedTag = "mismatched_tag"
	FixMissingClose  = "missing_close"
)

// InsightsDocument is the persisted result of processing one response
type InsightsDocument struct {
	RunID          string           `json:"run_id,omitempty"`
	Source         string           `json:"source,omitempty"`
	ProcessingDate time.Time        `json:"processing_date"`
	TotalInsights  int              `json:"total_insights"`
	Insights       []Insight        `json:"insights"`
	Validation     ValidationReport `json:"validation"`
	Fixes          []Fix            `json:"fixes"`
	Anomalies      []FieldAnomaly   `json:"anomalies"`
	Recovered      bool             `json:"recovered,omitempty"`
}

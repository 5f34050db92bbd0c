package types

import "fmt"

// Finding is a non-fatal validation message attached to one insight
type Finding struct {
	InsightID string `json:"insight_id"`
	Message   string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.InsightID, f.Message)
}

// ValidationReport collects findings in record order
type ValidationReport struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// HasErrors reports whether any record failed a required rule
func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// InsightValidator checks parsed insights without mutating them
type InsightValidator interface {
	Validate(insights []Insight) ValidationReport
}

// StandardInsightValidator is the default implementation of InsightValidator
type StandardInsightValidator struct{}

// NewStandardInsightValidator creates a new StandardInsightValidator
func NewStandardInsightValidator() *StandardInsightValidator {
	return &StandardInsightValidator{}
}

// Validate evaluates every rule for every record; nothing short-circuits
func (v *StandardInsightValidator) Validate(insights []Insight) ValidationReport {
	report := ValidationReport{
		Errors:   []Finding{},
		Warnings: []Finding{},
	}

	for i, insight := range insights {
		id := insight.ID
		if id == "" {
			id = InsightID(i + 1)
		}

		if insight.English.Message == "" {
			report.Errors = append(report.Errors, Finding{InsightID: id, Message: "Missing English message"})
		}

		if insight.Turkish.Message == "" {
			report.Warnings = append(report.Warnings, Finding{InsightID: id, Message: "Missing Turkish translation"})
		}

		if insight.Turkish.Score.Invalid() {
			report.Errors = append(report.Errors, Finding{
				InsightID: id,
				Message:   fmt.Sprintf("Invalid score %s (must be %d-%d)", scoreLabel(insight.Turkish.Score), ScoreMin, ScoreMax),
			})
		}

		if len(insight.Categories) == 0 {
			report.Warnings = append(report.Warnings, Finding{InsightID: id, Message: "No categories specified"})
		}
	}

	return report
}

func scoreLabel(s Score) string {
	if s.Raw != "" {
		return fmt.Sprintf("%q", s.Raw)
	}
	if s.Value != nil {
		return fmt.Sprintf("%d", *s.Value)
	}
	return "none"
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hra-insights/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "hra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocument(runID string, at time.Time) *types.InsightsDocument {
	return &types.InsightsDocument{
		RunID:          runID,
		Source:         "company/Company_1_report.txt",
		ProcessingDate: at,
		TotalInsights:  2,
		Insights: []types.Insight{
			{
				ID:              "insight_01",
				Index:           1,
				English:         types.English{Message: "Smokers sleep less", Proof: "42/120"},
				Turkish:         types.Turkish{Message: "Sigara içenler az uyuyor", Score: types.ScoreOf(8)},
				Categories:      []string{"sleep", "smoking"},
				HealthTags:      []string{"daily_smoker"},
				DemographicTags: []string{},
			},
			{
				ID:              "insight_02",
				Index:           2,
				English:         types.English{Message: ""},
				Turkish:         types.Turkish{Message: "x", Score: types.ParseScore("abc")},
				Categories:      []string{},
				HealthTags:      []string{},
				DemographicTags: []string{"female"},
			},
		},
		Validation: types.ValidationReport{
			Errors: []types.Finding{
				{InsightID: "insight_02", Message: "Missing English message"},
				{InsightID: "insight_02", Message: `Invalid score "abc" (must be 1-10)`},
			},
			Warnings: []types.Finding{{InsightID: "insight_02", Message: "No categories specified"}},
		},
		Fixes:     []types.Fix{{Kind: types.FixEscape, Line: 3, Description: "line 3: escaped 1 unsafe character(s) (&)"}},
		Anomalies: []types.FieldAnomaly{{InsightID: "insight_02", Field: "turkish.score", Value: "abc", Reason: "not an integer"}},
	}
}

func TestSaveAndListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRun(ctx, sampleDocument("run_a", base)))
	require.NoError(t, s.SaveRun(ctx, sampleDocument("run_b", base.Add(time.Hour))))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].ID)
	assert.Equal(t, "run_a", runs[1].ID)
	assert.Equal(t, base, runs[1].ProcessedAt)
	assert.Equal(t, 2, runs[0].TotalInsights)
	assert.Equal(t, 2, runs[0].Errors)
	assert.Equal(t, 1, runs[0].Warnings)
	assert.Equal(t, 1, runs[0].Fixes)
	assert.Equal(t, 1, runs[0].Anomalies)
	assert.False(t, runs[0].Recovered)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetInsights(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleDocument("run_a", time.Now())))

	insights, err := s.GetInsights(ctx, "run_a")
	require.NoError(t, err)
	require.Len(t, insights, 2)

	assert.Equal(t, "insight_01", insights[0].ID)
	assert.Equal(t, "Sigara içenler az uyuyor", insights[0].Turkish.Message)
	v, ok := insights[0].Turkish.Score.Int()
	require.True(t, ok)
	assert.Equal(t, 8, v)
	assert.Equal(t, []string{"sleep", "smoking"}, insights[0].Categories)
	assert.Equal(t, []string{}, insights[0].DemographicTags)

	_, ok = insights[1].Turkish.Score.Int()
	assert.False(t, ok)
	assert.Equal(t, []string{"female"}, insights[1].DemographicTags)
}

func TestGetFindings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleDocument("run_a", time.Now())))

	findings, err := s.GetFindings(ctx, "run_a")
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, "Missing English message", findings[0].Message)
	assert.Equal(t, SeverityWarning, findings[2].Severity)
}

func TestSaveRunReplaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDocument("run_a", time.Now())
	require.NoError(t, s.SaveRun(ctx, doc))

	doc.Insights = doc.Insights[:1]
	doc.TotalInsights = 1
	doc.Validation = types.ValidationReport{Errors: []types.Finding{}, Warnings: []types.Finding{}}
	doc.Recovered = true
	require.NoError(t, s.SaveRun(ctx, doc))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Recovered)

	insights, err := s.GetInsights(ctx, "run_a")
	require.NoError(t, err)
	assert.Len(t, insights, 1)

	findings, err := s.GetFindings(ctx, "run_a")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSaveRunAssignsID(t *testing.T) {
	s := setupTestStore(t)
	doc := sampleDocument("", time.Now())
	require.NoError(t, s.SaveRun(context.Background(), doc))
	assert.NotEmpty(t, doc.RunID)

	got, err := s.GetDocument(context.Background(), doc.RunID)
	require.NoError(t, err)
	assert.Equal(t, doc.Source, got.Source)
	assert.Equal(t, 2, got.TotalInsights)
	assert.Len(t, got.Fixes, 1)
}

func TestUnknownRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetInsights(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetFindings(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hra.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRun(context.Background(), sampleDocument("run_a", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, path, s.Path())
}

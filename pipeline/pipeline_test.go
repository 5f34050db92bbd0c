package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hra-insights/internal"
	"hra-insights/logger"
	"hra-insights/metrics"
	"hra-insights/parser"
	"hra-insights/types"
)

const goodResponse = "Here are the insights:\n```xml\n<insights>\n<insight>\n<message>Smokers & drinkers sleep < 6 hours</message>\n<proof>42 of 120</proof>\n<summary_tr score=\"8\">Sigara içenler az uyuyor</summary_tr>\n<categories>\n- sleep\n- smoking\n</categories>\n<health_tags>\n- daily_smoker\n</health_tags>\n<demographic_tags></demographic_tags>\n</insight>\n<insight>\n<message>Second</message>\n<summary_tr score=\"11\">İkinci</summary_tr>\n</insight>\n</insights>\n```"

const brokenResponse = "<insight>\n<message>a</message>\n<summary_tr>b</proof>\n</insight>"

type recordingSink struct {
	kinds []DumpKind
	texts []string
	err   error
}

func (s *recordingSink) Dump(kind DumpKind, runID, text string) error {
	s.kinds = append(s.kinds, kind)
	s.texts = append(s.texts, text)
	return s.err
}

type fixedEnricher struct{}

func (fixedEnricher) Enrich(insights []types.Insight) {
	for i := range insights {
		insights[i].TargetGroup = &types.TargetGroup{Size: len(insights[i].HealthTags), TotalPopulation: 10}
	}
}

func counterValue(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestProcessSuccess(t *testing.T) {
	m := metrics.New(false)
	p := New(Options{Metrics: m, Enricher: fixedEnricher{}, Now: fixedNow})

	ctx := internal.WithRunID(context.Background(), "run_test")
	doc, err := p.Process(ctx, "report.txt", goodResponse)
	require.NoError(t, err)

	assert.Equal(t, "run_test", doc.RunID)
	assert.Equal(t, "report.txt", doc.Source)
	assert.Equal(t, fixedNow(), doc.ProcessingDate)
	assert.Equal(t, 2, doc.TotalInsights)
	assert.Equal(t, "Smokers & drinkers sleep < 6 hours", doc.Insights[0].English.Message)
	assert.Equal(t, []string{"sleep", "smoking"}, doc.Insights[0].Categories)
	require.NotNil(t, doc.Insights[0].TargetGroup)
	assert.Equal(t, 1, doc.Insights[0].TargetGroup.Size)
	assert.False(t, doc.Recovered)

	require.Len(t, doc.Fixes, 1)
	assert.Equal(t, types.FixEscape, doc.Fixes[0].Kind)
	require.Len(t, doc.Anomalies, 1)
	assert.Equal(t, "insight_02", doc.Anomalies[0].InsightID)

	require.Len(t, doc.Validation.Errors, 1)
	assert.Equal(t, "insight_02", doc.Validation.Errors[0].InsightID)
	require.Len(t, doc.Validation.Warnings, 1)
	assert.Equal(t, "No categories specified", doc.Validation.Warnings[0].Message)

	assert.Equal(t, 1.0, counterValue(m.DocumentsProcessed.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 2.0, counterValue(m.InsightsExtracted))
	assert.Equal(t, 1.0, counterValue(m.RepairFixes.WithLabelValues(types.FixEscape)))
	assert.Equal(t, 1.0, counterValue(m.ValidationFindings.WithLabelValues(metrics.SeverityError)))
	assert.Equal(t, 1.0, counterValue(m.FieldAnomalies))
}

func TestProcessAssignsRunID(t *testing.T) {
	doc, err := New(Options{}).Process(context.Background(), "", goodResponse)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.RunID, "run_"))
}

func TestProcessNoRecords(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New(false)
	p := New(Options{Sink: sink, Metrics: m})

	raw := "I could not find any patterns in the data."
	doc, err := p.Process(context.Background(), "empty.txt", raw)
	assert.Nil(t, doc)
	assert.True(t, errors.Is(err, parser.ErrRepairExhausted))

	require.Equal(t, []DumpKind{DumpNoRecords}, sink.kinds)
	assert.Equal(t, raw, sink.texts[0])
	assert.Equal(t, 1.0, counterValue(m.DocumentsProcessed.WithLabelValues(metrics.OutcomeRepairExhausted)))
}

func TestProcessStructuralFailure(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New(false)
	p := New(Options{Sink: sink, Metrics: m})

	_, err := p.Process(context.Background(), "broken.txt", brokenResponse)
	var se *parser.StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 4, se.Line)

	require.Equal(t, []DumpKind{DumpStructural}, sink.kinds)
	assert.Equal(t, se.Text, sink.texts[0])
	assert.True(t, strings.HasPrefix(sink.texts[0], "<insights>\n"))
	assert.Equal(t, 1.0, counterValue(m.DocumentsProcessed.WithLabelValues(metrics.OutcomeStructuralError)))
}

func TestSinkFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewObservabilityLogger(logger.Options{Level: logger.DEBUG, Format: logger.FormatJSON, Output: &buf})
	require.NoError(t, err)

	sink := &recordingSink{err: errors.New("disk full")}
	p := New(Options{Sink: sink, Logger: log})

	_, err = p.Process(context.Background(), "x", "nothing here")
	assert.True(t, errors.Is(err, parser.ErrRepairExhausted))
	assert.Contains(t, buf.String(), "Failed to write debug dump")
	assert.Contains(t, buf.String(), "disk full")
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Process(ctx, "", goodResponse)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRecovered(t *testing.T) {
	text := "<insights>\n<insight>\n<message>\nNight shift stress\n<summary_tr score=\"5\">\nGece stresi\n</summary_tr>\n<categories>\n- stress\n</categories>\n</insight>\n</insights>"

	p := New(Options{})
	_, err := p.Process(context.Background(), "dump.txt", text)
	require.True(t, errors.Is(err, parser.ErrStructural))

	doc, recovered, err := p.ProcessRecovered(context.Background(), "dump.txt", text)
	require.NoError(t, err)
	assert.True(t, doc.Recovered)
	assert.Contains(t, recovered, "</message>")
	require.Len(t, doc.Insights, 1)
	assert.Equal(t, "Night shift stress", doc.Insights[0].English.Message)
	require.NotEmpty(t, doc.Fixes)
	assert.Equal(t, types.FixMissingClose, doc.Fixes[0].Kind)
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	sink := NewFileSink(dir)

	require.NoError(t, sink.Dump(DumpStructural, "run_abc/../x", "payload"))
	path := sink.Path(DumpStructural, "run_abc/../x")
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, filepath.Join(dir, "unknown_no_records.txt"), sink.Path(DumpNoRecords, ""))
}

func TestFileSinkThroughPipeline(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{Sink: NewFileSink(dir)})
	ctx := internal.WithRunID(context.Background(), "run_1")

	_, err := p.Process(ctx, "", "no tags")
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "run_1_no_records.txt"))
	require.NoError(t, err)
	assert.Equal(t, "no tags", string(data))
}

func TestSinkFunc(t *testing.T) {
	var got string
	p := New(Options{Sink: SinkFunc(func(kind DumpKind, runID, text string) error {
		got = string(kind)
		return nil
	})})
	_, err := p.Process(context.Background(), "", brokenResponse)
	require.Error(t, err)
	assert.Equal(t, string(DumpStructural), got)
}

// Package pipeline chains repair, parse and validate for one response and
// turns the outcome into an InsightsDocument. It also runs batches of files
// through a worker pool and watches directories for new responses.
package pipeline

import (
	"context"
	"errors"
	"time"

	"hra-insights/internal"
	"hra-insights/logger"
	"hra-insights/metrics"
	"hra-insights/parser"
	"hra-insights/repair"
	"hra-insights/types"
)

// Enricher attaches downstream data, such as target group sizes, to parsed
// insights in place
type Enricher interface {
	Enrich(insights []types.Insight)
}

// Options configures a Pipeline. Every field is optional.
type Options struct {
	Repair    repair.Options
	Validator types.InsightValidator
	Sink      DebugSink
	Logger    *logger.ObservabilityLogger
	Metrics   *metrics.Metrics
	Enricher  Enricher
	Now       func() time.Time
}

// Pipeline processes documents. It keeps no per-document state and is safe
// for concurrent use when its collaborators are.
type Pipeline struct {
	repairer  *repair.Repairer
	recoverer *repair.Recoverer
	parser    *parser.Parser
	validator types.InsightValidator
	sink      DebugSink
	log       *logger.ObservabilityLogger
	metrics   *metrics.Metrics
	enricher  Enricher
	now       func() time.Time
}

// New creates a Pipeline
func New(opts Options) *Pipeline {
	p := &Pipeline{
		parser:    parser.NewParser(),
		validator: opts.Validator,
		sink:      opts.Sink,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		enricher:  opts.Enricher,
		now:       opts.Now,
	}
	if p.validator == nil {
		p.validator = types.NewStandardInsightValidator()
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}

	repairOpts := opts.Repair
	if repairOpts.Log == nil {
		log := p.log
		repairOpts.Log = func(message string, fields map[string]interface{}) {
			log.Debug(logger.ComponentRepair, logger.CategoryWarning, "", message, fields)
		}
	}
	p.repairer = repair.NewRepairer(repairOpts)
	p.recoverer = repair.NewRecoverer(p.repairer)
	return p
}

// Process repairs, parses and validates raw. Hard failures return
// *parser.RepairExhaustedError or *parser.StructuralError and no document.
// Validation findings and field anomalies never fail the call.
func (p *Pipeline) Process(ctx context.Context, source, raw string) (*types.InsightsDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, runID := internal.EnsureRunID(ctx)
	start := p.now()

	p.log.Info(logger.ComponentPipeline, logger.CategoryRequest, runID, "Processing document", map[string]interface{}{
		"source": source,
		"bytes":  len(raw),
	})

	repaired := p.repairer.Repair(raw)
	for _, fix := range repaired.Fixes {
		p.log.RepairFix(runID, fix.Kind, fix.Description, fix.Line)
	}

	return p.finish(runID, source, raw, repaired.Text, repaired.Fixes, start)
}

// ProcessRecovered runs the manual recovery workflow on text that previously
// failed, then processes the result. Recovery fixes come first in the fix log.
func (p *Pipeline) ProcessRecovered(ctx context.Context, source, text string) (*types.InsightsDocument, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, text, err
	}
	_, runID := internal.EnsureRunID(ctx)
	start := p.now()

	for _, issue := range p.recoverer.Diagnose(text) {
		p.log.Info(logger.ComponentRepair, logger.CategoryDebug, runID, issue, map[string]interface{}{"source": source})
	}

	recovered, recoveryFixes := p.recoverer.Recover(text)
	repaired := p.repairer.Repair(recovered)
	fixes := append(append([]types.Fix{}, recoveryFixes...), repaired.Fixes...)
	for _, fix := range fixes {
		p.log.RepairFix(runID, fix.Kind, fix.Description, fix.Line)
	}

	doc, err := p.finish(runID, source, text, repaired.Text, fixes, start)
	if doc != nil {
		doc.Recovered = true
	}
	return doc, recovered, err
}

func (p *Pipeline) finish(runID, source, raw, repaired string, fixes []types.Fix, start time.Time) (*types.InsightsDocument, error) {
	result, err := p.parser.Parse(repaired)
	if err != nil {
		p.fail(runID, source, raw, err, start)
		return nil, err
	}

	report := p.validator.Validate(result.Insights)
	if p.enricher != nil {
		p.enricher.Enrich(result.Insights)
	}

	if fixes == nil {
		fixes = []types.Fix{}
	}
	doc := &types.InsightsDocument{
		RunID:          runID,
		Source:         source,
		ProcessingDate: p.now().UTC(),
		TotalInsights:  len(result.Insights),
		Insights:       result.Insights,
		Validation:     report,
		Fixes:          fixes,
		Anomalies:      result.Anomalies,
	}

	for _, a := range result.Anomalies {
		p.log.Warn(logger.ComponentParser, logger.CategoryWarning, runID, "Field extraction anomaly", map[string]interface{}{
			"insight_id": a.InsightID,
			"field":      a.Field,
			"value":      a.Value,
			"reason":     a.Reason,
		})
	}
	for _, f := range report.Errors {
		p.log.Finding(runID, metrics.SeverityError, f.InsightID, f.Message)
	}
	for _, f := range report.Warnings {
		p.log.Finding(runID, metrics.SeverityWarning, f.InsightID, f.Message)
	}

	p.observe(metrics.OutcomeSuccess, start, func(m *metrics.Metrics) {
		m.InsightsExtracted.Add(float64(doc.TotalInsights))
		for _, fix := range fixes {
			m.RepairFixes.WithLabelValues(fix.Kind).Inc()
		}
		m.ValidationFindings.WithLabelValues(metrics.SeverityError).Add(float64(len(report.Errors)))
		m.ValidationFindings.WithLabelValues(metrics.SeverityWarning).Add(float64(len(report.Warnings)))
		m.FieldAnomalies.Add(float64(len(result.Anomalies)))
	})

	p.log.Info(logger.ComponentPipeline, logger.CategorySuccess, runID, "Document processed", map[string]interface{}{
		"source":   source,
		"insights": doc.TotalInsights,
		"fixes":    len(fixes),
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
		"duration": time.Since(start).String(),
	})

	return doc, nil
}

func (p *Pipeline) fail(runID, source, raw string, err error, start time.Time) {
	var (
		exhausted  *parser.RepairExhaustedError
		structural *parser.StructuralError
	)
	switch {
	case errors.As(err, &exhausted):
		p.log.Error(logger.ComponentParser, logger.CategoryError, runID, "No insight records found", map[string]interface{}{
			"source": source,
			"bytes":  exhausted.Length,
		})
		p.dump(DumpNoRecords, runID, raw)
		p.observe(metrics.OutcomeRepairExhausted, start, nil)
	case errors.As(err, &structural):
		p.log.Error(logger.ComponentParser, logger.CategoryError, runID, "Structural parse failure", map[string]interface{}{
			"source":  source,
			"line":    structural.Line,
			"column":  structural.Column,
			"error":   structural.Message,
			"context": structural.Context,
		})
		p.dump(DumpStructural, runID, structural.Text)
		p.observe(metrics.OutcomeStructuralError, start, nil)
	}
}

// dump hands text to the sink; sink failures are logged and swallowed
func (p *Pipeline) dump(kind DumpKind, runID, text string) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Dump(kind, runID, text); err != nil {
		p.log.Warn(logger.ComponentPipeline, logger.CategoryWarning, runID, "Failed to write debug dump", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return
	}
	p.log.Debug(logger.ComponentPipeline, logger.CategoryDebug, runID, "Debug dump written", map[string]interface{}{
		"kind": string(kind),
	})
}

func (p *Pipeline) observe(outcome string, start time.Time, extra func(m *metrics.Metrics)) {
	if p.metrics == nil {
		return
	}
	p.metrics.DocumentsProcessed.WithLabelValues(outcome).Inc()
	p.metrics.Duration.Observe(p.now().Sub(start).Seconds())
	if extra != nil {
		extra(p.metrics)
	}
}

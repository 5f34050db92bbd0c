// Package metrics holds the Prometheus collectors for document processing.
// Each Metrics value owns a private registry so tests and multiple pipelines
// never collide on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hra"

// Outcome label values for DocumentsProcessed
const (
	OutcomeSuccess         = "success"
	OutcomeRepairExhausted = "repair_exhausted"
	OutcomeStructuralError = "structural_error"
)

// Severity label values for ValidationFindings
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Metrics is the set of pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	DocumentsProcessed *prometheus.CounterVec
	InsightsExtracted  prometheus.Counter
	RepairFixes        *prometheus.CounterVec
	ValidationFindings *prometheus.CounterVec
	FieldAnomalies     prometheus.Counter
	Duration           prometheus.Histogram
}

// New creates and registers the collectors. withRuntime adds the Go and
// process collectors, which only make sense for a long-running server.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DocumentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents run through repair, parse and validate, by outcome.",
		}, []string{"outcome"}),
		InsightsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_extracted_total",
			Help:      "Insight records extracted from successfully parsed documents.",
		}),
		RepairFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_fixes_total",
			Help:      "Corrections applied by the repairer, by kind.",
		}, []string{"kind"}),
		ValidationFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_findings_total",
			Help:      "Validation findings, by severity.",
		}, []string{"severity"}),
		FieldAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_anomalies_total",
			Help:      "Non-fatal field extraction anomalies.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing one document.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	m.registry.MustRegister(
		m.DocumentsProcessed,
		m.InsightsExtracted,
		m.RepairFixes,
		m.ValidationFindings,
		m.FieldAnomalies,
		m.Duration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, outcome := range []string{OutcomeSuccess, OutcomeRepairExhausted, OutcomeStructuralError} {
		m.DocumentsProcessed.WithLabelValues(outcome)
	}
	for _, severity := range []string{SeverityError, SeverityWarning} {
		m.ValidationFindings.WithLabelValues(severity)
	}

	return m
}

// Registry exposes the private registry for gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile dumps the current values for the node exporter textfile
// collector. The file is written atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

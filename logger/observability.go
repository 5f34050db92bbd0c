package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured logging using logrus
type ObservabilityLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// Component constants for consistent labeling
const (
	ComponentRepair    = "repair"
	ComponentParser    = "parser"
	ComponentValidator = "validator"
	ComponentPipeline  = "pipeline"
	ComponentGroupSize = "group_size"
	ComponentStore     = "store"
	ComponentServer    = "server"
	ComponentConfig    = "configuration"
)

// Category constants for log classification
const (
	CategoryRequest        = "request"
	CategoryTransformation = "transformation"
	CategorySuccess        = "success"
	CategoryWarning        = "warning"
	CategoryError          = "error"
	CategoryValidation     = "validation"
	CategoryDebug          = "debug"
)

// Options controls where and how log entries are written
type Options struct {
	Level  Level
	Format Format
	// Dir, when set, sends output to hra-insights.jsonl (or .log) inside it instead of Output.
	Dir    string
	Output io.Writer
}

// NewObservabilityLogger creates a new structured logger
func NewObservabilityLogger(opts Options) (*ObservabilityLogger, error) {
	var file *os.File
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, err
		}
		name := "hra-insights.log"
		if opts.Format == FormatJSON {
			name = "hra-insights.jsonl"
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		out = f
	}

	logger := logrus.New()
	logger.SetOutput(out)
	if opts.Format == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	logger.SetLevel(opts.Level.logrusLevel())

	return &ObservabilityLogger{
		logger: logger,
		file:   file,
	}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *ObservabilityLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &ObservabilityLogger{logger: logger}
}

// Close closes the log file
func (o *ObservabilityLogger) Close() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Close()
}

// createEntry creates a logrus entry with standard fields
func (o *ObservabilityLogger) createEntry(component, category, runID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   "hra-insights",
		"component": component,
		"category":  category,
	})

	if runID != "" {
		entry = entry.WithField("run_id", runID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, runID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, runID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, runID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, runID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, runID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, runID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, runID, message string, fields map[string]interface{}) {
	if o == nil {
		return
	}
	o.createEntry(component, category, runID, fields).Error(message)
}

// RepairFix logs one correction applied by the repairer
func (o *ObservabilityLogger) RepairFix(runID, kind, description string, line int) {
	o.Debug(ComponentRepair, CategoryTransformation, runID, description, map[string]interface{}{
		"fix_kind": kind,
		"line":     line,
	})
}

// Finding logs a validation finding for one insight
func (o *ObservabilityLogger) Finding(runID, severity, insightID, message string) {
	fields := map[string]interface{}{
		"severity":   severity,
		"insight_id": insightID,
	}
	if severity == "error" {
		o.Warn(ComponentValidator, CategoryValidation, runID, message, fields)
		return
	}
	o.Info(ComponentValidator, CategoryValidation, runID, message, fields)
}

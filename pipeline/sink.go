package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DumpKind names the failure a debug dump belongs to
type DumpKind string

const (
	// DumpNoRecords holds raw text in which no record block was found
	DumpNoRecords DumpKind = "no_records"
	// DumpStructural holds repaired text the parser rejected
	DumpStructural DumpKind = "structural"
)

// DebugSink receives diagnostic text on hard failures. Errors returned by a
// sink are logged by the pipeline and never reach the caller.
type DebugSink interface {
	Dump(kind DumpKind, runID, text string) error
}

// SinkFunc adapts a function to DebugSink
type SinkFunc func(kind DumpKind, runID, text string) error

// Dump calls f
func (f SinkFunc) Dump(kind DumpKind, runID, text string) error {
	return f(kind, runID, text)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileSink writes each dump to <dir>/<runID>_<kind>.txt
type FileSink struct {
	Dir string
}

// NewFileSink creates a FileSink rooted at dir
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Path returns where a dump for runID and kind is written
func (s *FileSink) Path(kind DumpKind, runID string) string {
	name := unsafeName.ReplaceAllString(runID, "_")
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%s.txt", name, kind))
}

// Dump writes text to the dump file, creating the directory when needed
func (s *FileSink) Dump(kind DumpKind, runID, text string) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}
	if err := os.WriteFile(s.Path(kind, runID), []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write debug dump: %w", err)
	}
	return nil
}

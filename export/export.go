// Package export flattens insight documents into one CSV for spreadsheets.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hra-insights/logger"
	"hra-insights/types"
)

// ListSeparator joins list fields inside one cell
const ListSeparator = "; "

// Columns is the header row of the unified export
var Columns = []string{
	"source_file",
	"insight_id",
	"index",
	"english_message",
	"english_proof",
	"turkish_message",
	"turkish_score",
	"categories",
	"health_tags",
	"demographic_tags",
	"target_group_size",
	"target_group_percentage",
	"target_group_filters",
	"target_group_total_population",
}

// Summary counts what an export wrote
type Summary struct {
	Documents int
	Skipped   int
	Rows      int
}

// Exporter writes documents found under a directory as CSV rows
type Exporter struct {
	log *logger.ObservabilityLogger
}

// New creates an Exporter. A nil logger discards warnings.
func New(log *logger.ObservabilityLogger) *Exporter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Exporter{log: log}
}

// FindDocuments returns every *.json file under dir, sorted
func FindDocuments(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadDocument loads one insights document
func ReadDocument(path string) (*types.InsightsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc types.InsightsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid insights document %s: %w", path, err)
	}
	return &doc, nil
}

// Export writes a header and one row per insight of every document under
// dir. Documents that cannot be read are skipped with a warning.
func (e *Exporter) Export(dir string, w io.Writer) (Summary, error) {
	var summary Summary

	paths, err := FindDocuments(dir)
	if err != nil {
		return summary, err
	}

	out := csv.NewWriter(w)
	if err := out.Write(Columns); err != nil {
		return summary, fmt.Errorf("failed to write header: %w", err)
	}

	for _, path := range paths {
		doc, err := ReadDocument(path)
		if err != nil {
			summary.Skipped++
			e.log.Warn(logger.ComponentPipeline, logger.CategoryWarning, "", "Skipping unreadable document", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}

		source := path
		if rel, err := filepath.Rel(dir, path); err == nil {
			source = rel
		}
		for _, in := range doc.Insights {
			if err := out.Write(Row(source, in)); err != nil {
				return summary, fmt.Errorf("failed to write row: %w", err)
			}
			summary.Rows++
		}
		summary.Documents++
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return summary, fmt.Errorf("failed to flush csv: %w", err)
	}
	return summary, nil
}

// ExportFile is Export into a file, creating its directory
func (e *Exporter) ExportFile(dir, path string) (Summary, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Summary{}, fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create %s: %w", path, err)
	}
	summary, err := e.Export(dir, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return summary, err
}

// Row flattens one insight in Columns order
func Row(source string, in types.Insight) []string {
	score := ""
	if v, ok := in.Turkish.Score.Int(); ok {
		score = strconv.Itoa(v)
	}

	row := []string{
		source,
		in.ID,
		strconv.Itoa(in.Index),
		collapse(in.English.Message),
		collapse(in.English.Proof),
		collapse(in.Turkish.Message),
		score,
		strings.Join(in.Categories, ListSeparator),
		strings.Join(in.HealthTags, ListSeparator),
		strings.Join(in.DemographicTags, ListSeparator),
		"", "", "", "",
	}

	if tg := in.TargetGroup; tg != nil {
		row[10] = strconv.Itoa(tg.Size)
		row[11] = strconv.FormatFloat(tg.Percentage, 'f', -1, 64)
		row[12] = strings.Join(tg.FiltersApplied, ListSeparator)
		row[13] = strconv.Itoa(tg.TotalPopulation)
	}
	return row
}

// collapse folds runs of whitespace, newlines included, into single spaces
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

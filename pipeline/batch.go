package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hra-insights/logger"
	"hra-insights/types"
)

// Batch layout names
const (
	MainReport     = "HRA_data_report.txt"
	CompanyDir     = "company"
	OutputSuffix   = "_insights.json"
	responseSuffix = ".txt"
)

// Job maps one response file to its document path
type Job struct {
	Input  string
	Output string
}

// FileResult is the outcome of one job
type FileResult struct {
	Job
	Success  bool
	Duration time.Duration
	Insights int
	Err      error
	Document *types.InsightsDocument
}

// Archiver stores processed documents, typically the SQLite store
type Archiver interface {
	SaveRun(ctx context.Context, doc *types.InsightsDocument) error
}

// OutputPath returns <outputDir>/<stem>_insights.json
func OutputPath(input, outputDir string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(outputDir, stem+OutputSuffix)
}

// Discover lists the main report (if present) and, unless mainOnly, every
// company/*.txt file. Company outputs mirror the company/ directory.
func Discover(inputDir, outputDir string, mainOnly bool) ([]Job, error) {
	var jobs []Job

	mainPath := filepath.Join(inputDir, MainReport)
	if info, err := os.Stat(mainPath); err == nil && !info.IsDir() {
		jobs = append(jobs, Job{Input: mainPath, Output: OutputPath(mainPath, outputDir)})
	}

	if mainOnly {
		return jobs, nil
	}

	companies, err := filepath.Glob(filepath.Join(inputDir, CompanyDir, "*"+responseSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list company reports: %w", err)
	}
	sort.Strings(companies)
	for _, path := range companies {
		jobs = append(jobs, Job{Input: path, Output: OutputPath(path, filepath.Join(outputDir, CompanyDir))})
	}
	return jobs, nil
}

// WriteDocument writes doc as indented JSON, creating parent directories
func WriteDocument(path string, doc *types.InsightsDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// Batch runs jobs through a fixed pool of workers
type Batch struct {
	pipeline *Pipeline
	workers  int
	archive  Archiver
	log      *logger.ObservabilityLogger
}

// NewBatch creates a Batch. archive and log may be nil.
func NewBatch(p *Pipeline, workers int, archive Archiver, log *logger.ObservabilityLogger) *Batch {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Batch{pipeline: p, workers: workers, archive: archive, log: log}
}

// Run processes every job and returns results in job order. Jobs not yet
// started when ctx is cancelled fail with the context error.
func (b *Batch) Run(ctx context.Context, jobs []Job) []FileResult {
	results := make([]FileResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := b.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	b.log.Info(logger.ComponentPipeline, logger.CategoryRequest, "", "Starting batch", map[string]interface{}{
		"files":   len(jobs),
		"workers": workers,
	})

	queue := make(chan int, len(jobs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results[i] = b.ProcessFile(ctx, jobs[i])
			}
		}()
	}

	for i := range jobs {
		queue <- i
	}
	close(queue)
	wg.Wait()

	return results
}

// ProcessFile reads one response, processes it, writes its document and
// archives it when an archiver is configured
func (b *Batch) ProcessFile(ctx context.Context, job Job) FileResult {
	start := time.Now()
	result := FileResult{Job: job}
	finish := func(err error) FileResult {
		result.Duration = time.Since(start)
		result.Err = err
		result.Success = err == nil
		if err != nil {
			b.log.Error(logger.ComponentPipeline, logger.CategoryError, "", "File failed", map[string]interface{}{
				"input": job.Input,
				"error": err.Error(),
			})
		}
		return result
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	raw, err := os.ReadFile(job.Input)
	if err != nil {
		return finish(fmt.Errorf("failed to read %s: %w", job.Input, err))
	}

	doc, err := b.pipeline.Process(ctx, job.Input, string(raw))
	if err != nil {
		return finish(err)
	}
	result.Document = doc
	result.Insights = doc.TotalInsights

	if err := WriteDocument(job.Output, doc); err != nil {
		return finish(err)
	}
	if b.archive != nil {
		if err := b.archive.SaveRun(ctx, doc); err != nil {
			return finish(fmt.Errorf("failed to archive %s: %w", job.Input, err))
		}
	}
	return finish(nil)
}

// Summary aggregates batch results
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Insights  int
	Duration  time.Duration
}

// Summarize counts successes, failures and extracted insights
func Summarize(results []FileResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
			s.Insights += r.Insights
		} else {
			s.Failed++
		}
		s.Duration += r.Duration
	}
	return s
}

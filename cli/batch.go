package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"hra-insights/logger"
	"hra-insights/metrics"
	"hra-insights/pipeline"
)

var (
	batchOutputDir       string
	batchMainOnly        bool
	batchWorkers         int
	batchDB              string
	batchMetricsTextfile string
)

var batchCmd = &cobra.Command{
	Use:   "batch [input-dir]",
	Short: "Process the main report and every company response in a directory",
	Long: `Processes HRA_data_report.txt and company/*.txt under the input directory
with a pool of workers, writing <name>_insights.json files into a mirrored
output tree. Exits non-zero when any file fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutputDir, "output-dir", "o", "", "directory for insights documents (default <input-dir>/insights)")
	batchCmd.Flags().BoolVar(&batchMainOnly, "main-only", false, "process only the main report")
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "number of parallel workers (default from config)")
	batchCmd.Flags().StringVar(&batchDB, "db", "", "archive every run in this SQLite database")
	batchCmd.Flags().StringVar(&batchMetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	inputDir := args[0]
	outputDir := batchOutputDir
	if outputDir == "" {
		outputDir = filepath.Join(inputDir, "insights")
	}
	workers := batchWorkers
	if workers <= 0 {
		workers = cfg.Workers
	}
	textfile := batchMetricsTextfile
	if textfile == "" {
		textfile = cfg.MetricsTextfile
	}

	jobs, err := pipeline.Discover(inputDir, outputDir, batchMainOnly)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("no response files found in %s", inputDir)
	}

	m := metrics.New(false)
	p, err := newPipeline(m)
	if err != nil {
		return err
	}

	var archive pipeline.Archiver
	st, err := openStore(batchDB)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		archive = st
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	start := time.Now()
	results := pipeline.NewBatch(p, workers, archive, log).Run(ctx, jobs)
	summary := pipeline.Summarize(results)
	summary.Duration = time.Since(start)

	printBatch(cmd.OutOrStdout(), results, summary)

	if textfile != "" {
		if err := m.WriteTextfile(textfile); err != nil {
			log.Warn(logger.ComponentPipeline, logger.CategoryWarning, "", "Failed to write metrics textfile", map[string]interface{}{
				"path":  textfile,
				"error": err.Error(),
			})
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total)
	}
	return nil
}

func printBatch(w io.Writer, results []pipeline.FileResult, summary pipeline.Summary) {
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(w, "  OK    %s -> %s (%d insights, %s)\n", r.Input, r.Output, r.Insights, r.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(w, "  FAIL  %s: %v\n", r.Input, r.Err)
	}
	fmt.Fprintf(w, "\nProcessed %d files in %s: %d succeeded, %d failed, %d insights\n",
		summary.Total, summary.Duration.Round(time.Millisecond), summary.Succeeded, summary.Failed, summary.Insights)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"hra-insights/internal"
	"hra-insights/logger"
	"hra-insights/parser"
	"hra-insights/pipeline"
	"hra-insights/types"
)

var (
	parseOutput string
	parseDB     string
	parseJSON   bool
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Repair, parse and validate one LLM response",
	Long: `Reads a raw LLM response, repairs its markup, extracts every <insight>
record and validates it. Findings are printed but never change the exit code;
the command fails only when no records exist or the markup cannot be parsed.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "write the insights document to this path")
	parseCmd.Flags().StringVar(&parseDB, "db", "", "archive the run in this SQLite database")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the insights document as JSON")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	p, err := newPipeline(nil)
	if err != nil {
		return err
	}

	ctx, runID := internal.EnsureRunID(cmd.Context())
	doc, err := p.Process(ctx, path, string(raw))
	if err != nil {
		printFailure(cmd.ErrOrStderr(), err)
		return err
	}

	if err := saveDocument(cmd, doc, parseOutput, firstNonEmpty(parseDB, cfg.DBPath)); err != nil {
		return err
	}

	if parseJSON {
		return printJSON(cmd.OutOrStdout(), doc)
	}
	printDocument(cmd.OutOrStdout(), doc)

	log.Debug(logger.ComponentPipeline, logger.CategorySuccess, runID, "Parse finished", map[string]interface{}{
		"insights": doc.TotalInsights,
	})
	return nil
}

// saveDocument writes the document file when output is set and archives the
// run when dbPath is set
func saveDocument(cmd *cobra.Command, doc *types.InsightsDocument, output, dbPath string) error {
	if output != "" {
		if err := pipeline.WriteDocument(output, doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d insights to %s\n", doc.TotalInsights, output)
	}

	if dbPath == "" {
		return nil
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveRun(cmd.Context(), doc); err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Archived run %s in %s\n", doc.RunID, st.Path())
	return nil
}

// printFailure explains a hard failure, with an excerpt for structural errors
func printFailure(w io.Writer, err error) {
	var se *parser.StructuralError
	switch {
	case errors.As(err, &se):
		fmt.Fprintf(w, "Markup could not be parsed: %s\n", se.Message)
		if excerpt := se.Excerpt(); excerpt != "" {
			fmt.Fprintln(w, excerpt)
		}
	case errors.Is(err, parser.ErrRepairExhausted):
		fmt.Fprintln(w, "No <insight> records found in the response")
	}
}

// printDocument renders a human-readable summary
func printDocument(w io.Writer, doc *types.InsightsDocument) {
	fmt.Fprintf(w, "Extracted %d insights", doc.TotalInsights)
	if doc.Source != "" {
		fmt.Fprintf(w, " from %s", doc.Source)
	}
	fmt.Fprintln(w)

	for _, in := range doc.Insights {
		score := "-"
		if v, ok := in.Turkish.Score.Int(); ok {
			score = fmt.Sprintf("%d", v)
		}
		fmt.Fprintf(w, "  [%s] %s (score: %s)\n", in.ID, in.English.Message, score)
		if tg := in.TargetGroup; tg != nil {
			fmt.Fprintf(w, "      target group: %d of %d (%.2f%%)\n", tg.Size, tg.TotalPopulation, tg.Percentage)
		}
	}

	if len(doc.Fixes) > 0 {
		fmt.Fprintf(w, "\nRepairs (%d):\n", len(doc.Fixes))
		for _, fix := range doc.Fixes {
			fmt.Fprintf(w, "  - %s\n", fix.Description)
		}
	}
	if len(doc.Anomalies) > 0 {
		fmt.Fprintf(w, "\nField anomalies (%d):\n", len(doc.Anomalies))
		for _, a := range doc.Anomalies {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}

	fmt.Fprintf(w, "\nValidation: %d errors, %d warnings\n", len(doc.Validation.Errors), len(doc.Validation.Warnings))
	for _, f := range doc.Validation.Errors {
		fmt.Fprintf(w, "  ERROR   %s: %s\n", f.InsightID, f.Message)
	}
	for _, f := range doc.Validation.Warnings {
		fmt.Fprintf(w, "  WARNING %s: %s\n", f.InsightID, f.Message)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

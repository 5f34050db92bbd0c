package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsDB    string
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List archived runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the insights and findings of one archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsDB, "db", "", "SQLite archive (default db_path from config)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs, 0 for all")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "output as JSON")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	st, err := openStore(runsDB)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("no archive configured: pass --db or set db_path")
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs archived.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPROCESSED\tSOURCE\tINSIGHTS\tERRORS\tWARNINGS\tFIXES")
	for _, r := range runs {
		source := r.Source
		if r.Recovered {
			source += " (recovered)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.ProcessedAt.Local().Format(time.DateTime), source, r.TotalInsights, r.Errors, r.Warnings, r.Fixes)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore(runsDB)
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("no archive configured: pass --db or set db_path")
	}
	defer st.Close()

	runID := args[0]
	insights, err := st.GetInsights(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	findings, err := st.GetFindings(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	out := cmd.OutOrStdout()
	if runsJSON {
		return printJSON(out, map[string]interface{}{
			"run_id":   runID,
			"insights": insights,
			"findings": findings,
		})
	}

	fmt.Fprintf(out, "Run %s: %d insights\n", runID, len(insights))
	for _, in := range insights {
		fmt.Fprintf(out, "  [%s] %s\n", in.ID, in.English.Message)
	}
	if len(findings) > 0 {
		fmt.Fprintln(out, "\nFindings:")
		for _, f := range findings {
			fmt.Fprintf(out, "  %-7s %s: %s\n", f.Severity, f.InsightID, f.Message)
		}
	}
	return nil
}

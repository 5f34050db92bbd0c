package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hra-insights/internal"
	"hra-insights/repair"
)

var (
	recoverOutput string
	recoverDryRun bool
	recoverJSON   string
	recoverDB     string
)

var recoverCmd = &cobra.Command{
	Use:   "recover [file]",
	Short: "Recover a response that failed structural parsing",
	Long: `Diagnoses and fixes markup that the regular repair pass could not handle,
typically a debug dump. The fixed text is written next to the input (or to
--output) and parsed again. --json additionally writes the insights document
and --db archives the recovered run. db_path from the config is not used here.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVarP(&recoverOutput, "output", "o", "", "path for the fixed text (default <file>.fixed.xml)")
	recoverCmd.Flags().BoolVar(&recoverDryRun, "dry-run", false, "only print the diagnosis")
	recoverCmd.Flags().StringVar(&recoverJSON, "json", "", "write the recovered insights document to this path")
	recoverCmd.Flags().StringVar(&recoverDB, "db", "", "archive the recovered run in this SQLite database")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := string(data)
	out := cmd.OutOrStdout()

	recoverer := repair.NewRecoverer(repair.NewRepairer(cfg.RepairOptions()))
	issues := recoverer.Diagnose(text)
	if len(issues) == 0 {
		fmt.Fprintln(out, "No structural issues detected")
	} else {
		fmt.Fprintf(out, "Found %d issue(s):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
	if recoverDryRun {
		return nil
	}

	p, err := newPipeline(nil)
	if err != nil {
		return err
	}
	ctx, _ := internal.EnsureRunID(cmd.Context())
	doc, recovered, err := p.ProcessRecovered(ctx, path, text)

	target := recoverOutput
	if target == "" {
		target = path + ".fixed.xml"
	}
	if werr := os.WriteFile(target, []byte(recovered), 0644); werr != nil {
		return fmt.Errorf("failed to write %s: %w", target, werr)
	}
	fmt.Fprintf(out, "Wrote fixed text to %s\n", target)

	for _, issue := range repair.CheckBalance(recovered) {
		fmt.Fprintf(out, "  still unbalanced: %s\n", issue)
	}

	if err != nil {
		printFailure(cmd.ErrOrStderr(), err)
		return err
	}

	fmt.Fprintf(out, "Recovered %d insights\n", doc.TotalInsights)
	return saveDocument(cmd, doc, recoverJSON, recoverDB)
}

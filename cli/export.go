package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hra-insights/export"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Flatten every insights document under a directory into one CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "CSV path (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	exporter := export.New(log)

	if exportOutput == "" {
		_, err := exporter.Export(args[0], cmd.OutOrStdout())
		return err
	}

	summary, err := exporter.ExportFile(args[0], exportOutput)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d insights from %d documents to %s", summary.Rows, summary.Documents, exportOutput)
	if summary.Skipped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d skipped)", summary.Skipped)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hra-insights/groupsize"
)

var (
	groupCSV         string
	groupMappings    string
	groupHealth      string
	groupDemographic string
	groupJSON        bool
)

var groupsizeCmd = &cobra.Command{
	Use:   "groupsize",
	Short: "Count the survey population selected by a set of tags",
	Long: `Looks up health and demographic tags in the value mappings file and counts
matching rows of the survey CSV. Tags in the same column are OR-ed, different
columns are AND-ed. Use "groupsize recalc" to refresh existing documents.`,
	Args: cobra.NoArgs,
	RunE: runGroupsize,
}

func init() {
	groupsizeCmd.PersistentFlags().StringVar(&groupCSV, "csv", "", "survey CSV (default csv_path from config)")
	groupsizeCmd.PersistentFlags().StringVar(&groupMappings, "mappings", "", "value mappings file (default mappings_path from config)")
	groupsizeCmd.Flags().StringVar(&groupHealth, "health-tags", "", "comma-separated health tags")
	groupsizeCmd.Flags().StringVar(&groupDemographic, "demographic-tags", "", "comma-separated demographic tags")
	groupsizeCmd.Flags().BoolVar(&groupJSON, "json", false, "print the target group as JSON")
	rootCmd.AddCommand(groupsizeCmd)
}

func runGroupsize(cmd *cobra.Command, _ []string) error {
	csvPath, mappingsPath, err := groupInputs()
	if err != nil {
		return err
	}
	calc, err := groupsize.Load(csvPath, mappingsPath)
	if err != nil {
		return err
	}

	group := calc.Calculate(splitTags(groupHealth), splitTags(groupDemographic))
	out := cmd.OutOrStdout()
	if groupJSON {
		return printJSON(out, group)
	}

	fmt.Fprintf(out, "Target group: %d of %d (%.2f%%)\n", group.Size, group.TotalPopulation, group.Percentage)
	if len(group.FiltersApplied) > 0 {
		fmt.Fprintf(out, "Filters: %s\n", strings.Join(group.FiltersApplied, " AND "))
	}
	if len(group.UnknownTags) > 0 {
		fmt.Fprintf(out, "Unknown tags: %s\n", strings.Join(group.UnknownTags, ", "))
	}
	if group.Note != "" {
		fmt.Fprintf(out, "Note: %s\n", group.Note)
	}
	return nil
}

// groupInputs resolves the survey CSV and mappings paths from flags or config
func groupInputs() (string, string, error) {
	csvPath := firstNonEmpty(groupCSV, cfg.CSVPath)
	mappingsPath := firstNonEmpty(groupMappings, cfg.MappingsPath)
	if csvPath == "" || mappingsPath == "" {
		return "", "", errors.New("both --csv and --mappings are required (or csv_path and mappings_path in config)")
	}
	return csvPath, mappingsPath, nil
}

// splitTags parses a comma-separated flag value, dropping blanks
func splitTags(value string) []string {
	var tags []string
	for _, tag := range strings.Split(value, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

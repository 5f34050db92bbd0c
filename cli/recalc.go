package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hra-insights/export"
	"hra-insights/groupsize"
	"hra-insights/logger"
	"hra-insights/pipeline"
)

var recalcCSVDir string

var recalcCmd = &cobra.Command{
	Use:   "recalc [file-or-dir]",
	Short: "Recalculate target groups of existing insights documents",
	Long: `Rewrites the target_group of every insight in existing *_insights.json
documents without reprocessing the responses. Documents under a "company"
directory use <csv-dir>/company/<name>.csv when --csv-dir is set and that file
exists, otherwise the main --csv. Exits non-zero when any document fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecalc,
}

func init() {
	recalcCmd.Flags().StringVar(&recalcCSVDir, "csv-dir", "", "directory holding company/<name>.csv survey files")
	groupsizeCmd.AddCommand(recalcCmd)
}

// errNoInsights marks a document that has nothing to recalculate
var errNoInsights = errors.New("no insights found")

func runRecalc(cmd *cobra.Command, args []string) error {
	csvPath, mappingsPath, err := groupInputs()
	if err != nil {
		return err
	}
	mappings, err := groupsize.LoadMappings(mappingsPath)
	if err != nil {
		return err
	}

	paths, err := recalcTargets(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no insights documents found in %s", args[0])
	}

	calculators := make(map[string]*groupsize.Calculator)
	calculatorFor := func(path string) (*groupsize.Calculator, error) {
		if calc, ok := calculators[path]; ok {
			return calc, nil
		}
		population, err := groupsize.LoadPopulation(path)
		if err != nil {
			return nil, err
		}
		calc := groupsize.NewCalculator(population, mappings)
		calculators[path] = calc
		return calc, nil
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		survey := companyCSV(path, recalcCSVDir, csvPath)
		calc, err := calculatorFor(survey)
		if err == nil {
			var n int
			n, err = recalcDocument(path, calc)
			if err == nil {
				fmt.Fprintf(out, "  OK    %s (%d insights, %s)\n", path, n, survey)
				continue
			}
		}
		failed++
		fmt.Fprintf(out, "  FAIL  %s: %v\n", path, err)
		log.Warn(logger.ComponentGroupSize, logger.CategoryWarning, "", "Recalculation failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	fmt.Fprintf(out, "\nRecalculated %d documents: %d updated, %d failed\n", len(paths), len(paths)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

// recalcTargets lists the documents named by a file or directory argument
func recalcTargets(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("path not found: %w", err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(target), ".json") {
			return nil, fmt.Errorf("not a JSON file: %s", target)
		}
		return []string{target}, nil
	}
	return export.FindDocuments(target)
}

// recalcDocument refreshes the target groups of one document in place
func recalcDocument(path string, calc *groupsize.Calculator) (int, error) {
	doc, err := export.ReadDocument(path)
	if err != nil {
		return 0, err
	}
	if len(doc.Insights) == 0 {
		return 0, errNoInsights
	}
	calc.Enrich(doc.Insights)
	if err := pipeline.WriteDocument(path, doc); err != nil {
		return 0, err
	}
	return len(doc.Insights), nil
}

// companyCSV picks the per-company survey for documents under a company
// directory, falling back to the main CSV when it does not exist
func companyCSV(docPath, csvDir, fallback string) string {
	if csvDir == "" {
		return fallback
	}
	inCompany := false
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(docPath)), "/") {
		if part == "company" {
			inCompany = true
			break
		}
	}
	if !inCompany {
		return fallback
	}
	stem := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	stem = strings.TrimSuffix(strings.TrimSuffix(stem, "_report_insights"), "_insights")
	candidate := filepath.Join(csvDir, "company", stem+".csv")
	if _, err := os.Stat(candidate); err != nil {
		return fallback
	}
	return candidate
}

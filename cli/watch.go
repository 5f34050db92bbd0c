package cli

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"hra-insights/pipeline"
)

var (
	watchOutputDir string
	watchDB        string
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Process response files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputDir, "output-dir", "o", "", "directory for insights documents (default <dir>/insights)")
	watchCmd.Flags().StringVar(&watchDB, "db", "", "archive every run in this SQLite database")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	outputDir := watchOutputDir
	if outputDir == "" {
		outputDir = filepath.Join(dir, "insights")
	}

	p, err := newPipeline(nil)
	if err != nil {
		return err
	}

	var archive pipeline.Archiver
	st, err := openStore(watchDB)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		archive = st
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", dir)

	// results arrive from the watcher's timer goroutines
	var mu sync.Mutex
	w := pipeline.NewWatcher(pipeline.NewBatch(p, 1, archive, log), dir, outputDir, func(r pipeline.FileResult) {
		mu.Lock()
		defer mu.Unlock()
		if r.Success {
			fmt.Fprintf(out, "  OK    %s -> %s (%d insights)\n", r.Input, r.Output, r.Insights)
			return
		}
		fmt.Fprintf(out, "  FAIL  %s: %v\n", r.Input, r.Err)
	})
	return w.Run(ctx)
}

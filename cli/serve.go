package cli

import (
	"github.com/spf13/cobra"

	"hra-insights/metrics"
	"hra-insights/server"
)

var (
	servePort string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the insights API over HTTP",
	Long: `Starts an HTTP server with POST /v1/insights (raw response text in,
insights document out), GET /health and GET /metrics. With an archive
configured, runs are stored and listed under /v1/runs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port or host:port (default port from config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "archive runs in this SQLite database")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if servePort != "" {
		cfg.Port = servePort
	}

	m := metrics.New(true)
	p, err := newPipeline(m)
	if err != nil {
		return err
	}

	opts := server.Options{
		Pipeline: p,
		Metrics:  m,
		Logger:   log,
		Version:  version,
	}
	st, err := openStore(serveDB)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		opts.Archive = st
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return server.Serve(ctx, cfg.Addr(), server.NewHandler(opts).Routes(), log)
}

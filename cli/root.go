// Package cli is the hra-insights command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hra-insights/config"
	"hra-insights/logger"
)

// version is set by SetVersion from the build metadata in main
var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *logger.ObservabilityLogger
)

var rootCmd = &cobra.Command{
	Use:   "hra-insights",
	Short: "Repair, parse and validate LLM insight responses",
	Long: `hra-insights turns free-form LLM responses containing <insight> records into
validated JSON documents. It repairs common markup mistakes, reports what it
changed, and can enrich insights with target group sizes from survey data.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		_ = log.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default hra.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

// SetVersion records the build version shown by the version command and /health
func SetVersion(v string) {
	version = v
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and the logger before any subcommand runs
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if logFormat != "" {
		loaded.LogFormat = logFormat
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	opts := loaded.LoggerOptions()
	opts.Output = cmd.ErrOrStderr()
	l, err := logger.NewObservabilityLogger(opts)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, log = loaded, l
	log.Debug(logger.ComponentConfig, logger.CategoryDebug, "", "Configuration loaded", map[string]interface{}{
		"sources":   cfg.Sources,
		"log_level": opts.Level.String(),
		"workers":   cfg.Workers,
		"debug_on":  cfg.DebugDir != "",
	})
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

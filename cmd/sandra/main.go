// Package main provides the SanDRA command line interface.
//
// SanDRA couples large-language-model driving decisions with formal
// verification: the model proposes a ranked list of high-level
// maneuvers and a reachability analysis accepts the first provably
// safe one.
//
// # Basic Usage
//
// Decide once on a recorded scenario:
//
//	sandra run scenario.xml
//
// Drive the closed-loop highway simulation:
//
//	sandra highway --seed 4213
//
// Evaluate a batch of open-loop results against ground-truth labels:
//
//	sandra evaluate --results results/ --labels labels.csv
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key for the openai provider
//   - ANTHROPIC_API_KEY: Anthropic API key for the anthropic provider
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "sandra",
		Short:        "SanDRA - safe driving decisions from language models",
		Long:         "SanDRA prompts a language model for ranked high-level driving\ndecisions and verifies them with reachability analysis before execution.",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (YAML or JSON5)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildHighwayCmd(),
		buildBatchCmd(),
		buildLabelCmd(),
		buildEvaluateCmd(),
		buildAnalyzeCmd(),
		buildMonitorCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration file from the --config flag or
// the SANDRA_CONFIG environment variable, falling back to the built-in
// defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("SANDRA_CONFIG")
	}
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// setup builds the shared runtime pieces of every subcommand.
func setup() (*config.Config, *observability.Logger, *observability.Metrics, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, log, observability.NewMetrics(), nil
}

// signalContext attaches SIGINT/SIGTERM cancellation to the command.
func signalContext(cmd *cobra.Command) (stop func()) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	return cancel
}

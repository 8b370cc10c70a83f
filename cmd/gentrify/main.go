// Command gentrify runs the household relocation model: single live runs,
// parameter sweeps, config validation and trace inspection.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var logLevel, envFile string

	rootCmd := &cobra.Command{
		Use:           "gentrify",
		Short:         "Agent-based model of gentrification and slum formation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogging(logLevel); err != nil {
				return err
			}
			return loadEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with GENTRIFY_* keys (skipped if missing)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(traceCmd())
	rootCmd.AddCommand(runsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return nil
}

// loadEnv reads KEY=value pairs into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("environment loaded", "path", path)
	return nil
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single simulation",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSim(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults if empty)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database to record the run in")
	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "write a zstd-compressed per-tick trace to this file")
	cmd.Flags().StringVar(&opts.chartPath, "chart", "", "write a PNG chart of the sampled history when the run ends")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve the HTTP API while running")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 8080, "HTTP API port")
	cmd.Flags().Int64Var(&opts.seed, "seed", -1, "override the config seed (0 = random)")
	cmd.Flags().IntVar(&opts.steps, "steps", -1, "override run.max_steps")
	return cmd
}

func sweepCmd() *cobra.Command {
	var opts sweepOptions

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a batch of simulations over a parameter grid",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSweep(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults if empty)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database to record every run in")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "write sampled stats of every run as CSV")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "concurrent runs (overrides sweep.workers)")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "runs per parameter combination (overrides sweep.iterations)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a config file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
}

func traceCmd() *cobra.Command {
	var chartPath string

	cmd := &cobra.Command{
		Use:   "trace [file]",
		Short: "Summarise a per-tick trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTrace(args[0], chartPath)
		},
	}

	cmd.Flags().StringVar(&chartPath, "chart", "", "also write a PNG chart of the trace")
	return cmd
}

func runsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in a database",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runList(dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "gentrify.db", "SQLite database")
	return cmd
}

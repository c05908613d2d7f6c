// LabelFlow - prediction problem search over event logs.
// Slides windows over each entity's events and labels them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/labelflow/pkg/config"
	"github.com/logflow/labelflow/pkg/labels"
	"github.com/logflow/labelflow/pkg/logging"
	"github.com/logflow/labelflow/pkg/telemetry"
)

var (
	version = labels.Version
	commit  = "dev"
)

// Global flags
var (
	jobFile  string
	logLevel string
	verbose  bool
)

// State shared by subcommands, set up in PersistentPreRunE.
var (
	manager  *config.Manager
	shutdown func(context.Context) error
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labelflow",
	Short: "LabelFlow - Search event logs for labeled training examples",
	Long: `LabelFlow slides windows over the events of every entity in a table
and applies labeling functions to each window, producing label times.

Settings are layered: defaults, /etc/labelflow/config.yaml,
~/.labelflow/config.yaml, ./.labelflow.yaml, LABELFLOW_* environment
variables, the --config job file and finally command-line flags.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(context.WithoutCancel(cmd.Context()))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&jobFile, "config", "c", "", "Job file (YAML) layered over the config files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sliceCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads configuration, builds the logger and starts tracing.
func setup(cmd *cobra.Command, args []string) error {
	manager = config.NewManager()
	if err := manager.Load(); err != nil {
		return err
	}
	if jobFile != "" {
		if err := manager.LoadJob(jobFile); err != nil {
			return err
		}
	}
	cfg := manager.Get()

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	log := logging.NewLogger(level)
	ctx := logging.WithLogger(cmd.Context(), log)

	var err error
	shutdown, err = telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		log.Warnw("tracing disabled", zap.Error(err))
		shutdown = nil
	}

	log.Debugw("configuration loaded", "files", manager.GetPaths())
	cmd.SetContext(ctx)
	return nil
}

package main

import (
	"fmt"
	"os"
	"sieve/internal/config"
	"sieve/internal/logging"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sieve",
		Short:         "sieve - turn captured content into knowledge capsules",
		Long:          "sieve watches an inbox, accepts browser and relay captures, and distills each one into a markdown knowledge capsule.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "sieve.json", "Path to the config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newStartCmd(opts))
	cmd.AddCommand(newStopCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newProcessCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newRelayCmd(opts))
	return cmd
}

// load reads the config file, creating it with defaults when absent
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logger builds the process logger. Console output goes to the command's
// stderr so stdout stays clean for command output.
func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config, component string) (*logging.Logger, func() error) {
	level := cfg.Logging.Level
	if o.verbose {
		level = "debug"
	}
	logger, closeFn, err := logging.Setup(component, logging.Options{
		Level:       level,
		FileEnabled: cfg.Logging.FileEnabled,
		FilePath:    cfg.LogFilePath(),
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		Console:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return logging.NewLogger(component, logging.ParseLevel(level), cmd.ErrOrStderr()), func() error { return nil }
	}
	return logger, closeFn
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sieve/internal/capsule"
	"sieve/internal/coordinator"
	"sieve/internal/lock"
	"sieve/internal/mcp"
	"strconv"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const envExample = `# OpenAI API key (required for the default provider)
OPENAI_API_KEY=sk-...

# Optional: folder of screenshots to capture automatically
# SIEVE_SCREENSHOT_FOLDER=~/Desktop
`

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault layout and a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.EnsureVault(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, dir := range []string{cfg.InboxPath(), cfg.CapsulesPath(), cfg.AssetsPath(), cfg.LegacyPath(), cfg.SievePath()} {
				rel, err := filepath.Rel(cfg.VaultRoot, dir)
				if err != nil {
					rel = dir
				}
				fmt.Fprintf(out, "  Created: %s/\n", rel)
			}
			for _, dir := range []string{cfg.InboxPath(), cfg.LegacyPath()} {
				keep := filepath.Join(dir, ".gitkeep")
				if _, err := os.Stat(keep); os.IsNotExist(err) {
					if err := os.WriteFile(keep, nil, 0644); err != nil {
						return err
					}
				}
			}

			example := filepath.Join(cfg.VaultRoot, ".env.example")
			if _, err := os.Stat(example); os.IsNotExist(err) {
				if err := os.WriteFile(example, []byte(envExample), 0644); err != nil {
					return err
				}
				fmt.Fprintln(out, "  Created: .env.example")
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Vault initialized! Next steps:")
			fmt.Fprintln(out, "  1. Copy .env.example to .env and add your API key")
			fmt.Fprintln(out, "  2. Run 'sieve start' to launch the watcher and dashboard")
			fmt.Fprintln(out, "  3. Drop files into Inbox/ to process them")
			return nil
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the watcher, dashboard and relay poller",
		Long:  "Run the inbox watcher, the dashboard server and, when a relay is configured, the relay poller in one process. Stops gracefully on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog := opts.logger(cmd, cfg, "main")
			defer closeLog()
			logger.Info("Starting sieve v%s...", version)

			transformer, err := newTransformer(cfg, logger)
			if err != nil {
				return err
			}
			c, err := coordinator.New(cfg, transformer, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = c.Run(ctx)
			if errors.Is(err, lock.ErrHeld) {
				if pid, ok := lock.New(coordinator.LockName, cfg.PIDDir(), nil).PID(); ok {
					return fmt.Errorf("sieve is already running (pid %d)", pid)
				}
			}
			if err != nil {
				return err
			}
			logger.Info("sieve stopped")
			return nil
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running sieve process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pid, err := lock.New(coordinator.LockName, cfg.PIDDir(), nil).Signal()
			if errors.Is(err, lock.ErrNotRunning) {
				return errors.New("sieve is not running")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to sieve (pid %d)\n", pid)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running services and vault counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			services, err := lock.Services(cfg.PIDDir())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Service", "State", "PID"})
			if len(services) == 0 {
				t.AppendRow(table.Row{coordinator.LockName, "stopped", "-"})
			}
			for _, s := range services {
				state, pid := "stopped (stale pid file)", "-"
				if s.Running {
					state, pid = "running", strconv.Itoa(s.PID)
				}
				t.AppendRow(table.Row{s.Name, state, pid})
			}
			t.Render()

			entries, err := capsule.Load(capsule.LayoutFor(cfg), capsule.LoadOptions{})
			if err != nil {
				return err
			}
			pinned := 0
			for _, e := range entries {
				if e.Pinned {
					pinned++
				}
			}
			fmt.Fprintf(out, "\nVault:    %s\n", cfg.VaultRoot)
			fmt.Fprintf(out, "Capsules: %d active, %d pinned\n", len(entries), pinned)
			fmt.Fprintf(out, "Inbox:    %d waiting\n", countFiles(cfg.InboxPath()))
			fmt.Fprintf(out, "Failed:   %d dead-lettered\n", countFiles(cfg.FailedPath()))
			return nil
		},
	}
}

// countFiles counts visible regular files directly in dir
func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && e.Name()[0] != '.' {
			n++
		}
	}
	return n
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process FILE",
		Short: "Process a single file into a capsule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.EnsureVault(); err != nil {
				return err
			}
			logger, closeLog := opts.logger(cmd, cfg, "main")
			defer closeLog()

			transformer, err := newTransformer(cfg, logger)
			if err != nil {
				return err
			}
			proc := newProcessor(cfg, transformer, logger)

			fmt.Fprintf(cmd.OutOrStdout(), "Processing: %s\n", filepath.Base(path))
			result, err := proc.ProcessFile(cmd.Context(), path, capsule.MethodManual)
			if err != nil {
				return fmt.Errorf("processing failed, check %s: %w", cfg.ErrorLogPath(), err)
			}
			if result == "" {
				return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", result)
			return nil
		},
	}
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Regenerate Capsules/INDEX.md",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog := opts.logger(cmd, cfg, "main")
			defer closeLog()

			ix := newIndexer(cfg, logger)
			if err := ix.Regenerate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Regenerated %s\n", ix.Path())
			return nil
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve capsules to AI tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// No logger: stdout carries JSON-RPC
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return mcp.Run(capsule.LayoutFor(cfg), cfg.IndexPath(), version)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			relay := "disabled"
			if cfg.RelayClientEnabled() {
				relay = fmt.Sprintf("%s every %ds", cfg.Relay.URL, cfg.Relay.PollIntervalSeconds)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Setting", "Value"})
			t.AppendRows([]table.Row{
				{"Config file", opts.configPath},
				{"Vault root", cfg.VaultRoot},
				{"Screenshot folder", cfg.ScreenshotPath()},
				{"Dashboard", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
				{"LLM provider", cfg.LLM.Provider},
				{"LLM model", cfg.LLM.Model},
				{"Max retries", cfg.Processing.MaxRetries},
				{"Max file size", fmt.Sprintf("%d MB", cfg.Processing.MaxFileSizeMB)},
				{"Relay poller", relay},
				{"Relay server", fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)},
				{"Log level", cfg.Logging.Level},
			})
			t.Render()
			return nil
		},
	}
}

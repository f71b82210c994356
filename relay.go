package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sieve/internal/auth"
	"sieve/internal/lock"
	"sieve/internal/relay"
	"sieve/internal/store"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// relayLockName guards against two relay servers on one database
const relayLockName = "relay"

func newRelayCmd(opts *rootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the capture relay and manage its API keys",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Relay database path (default: relay.db_path from config)")

	cmd.AddCommand(newRelayServeCmd(opts, &dbPath))
	cmd.AddCommand(newRelayInitDBCmd(opts, &dbPath))
	cmd.AddCommand(newRelayGenerateKeyCmd(opts, &dbPath))
	cmd.AddCommand(newRelayListKeysCmd(opts, &dbPath))
	cmd.AddCommand(newRelayRevokeKeyCmd(opts, &dbPath))
	return cmd
}

func newRelayServeCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay capture queue server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, closeLog := opts.logger(cmd, cfg, "relay")
			defer closeLog()

			l := lock.New(relayLockName, cfg.PIDDir(), logger)
			if err := l.Acquire(); err != nil {
				return err
			}
			defer l.Release()

			st, err := openRelayStore(cfg, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			authenticator := auth.NewAuthenticator(st, logger.Named("auth"))
			srv := relay.NewServer(cfg.Relay, st, authenticator, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
}

func newRelayInitDBCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the relay database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openRelayStore(cfg, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			path := *dbPath
			if path == "" {
				path = cfg.RelayDBPath()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database initialized at %s\n", path)
			return nil
		},
	}
}

func newRelayGenerateKeyCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	var (
		name      string
		admin     bool
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("rate-limit") {
				rateLimit = cfg.Relay.DefaultRateLimit
			}
			if rateLimit < 1 {
				return fmt.Errorf("rate limit must be at least 1, got %d", rateLimit)
			}

			st, err := openRelayStore(cfg, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			raw, err := auth.NewAuthenticator(st, nil).GenerateKey(cmd.Context(), name, admin, rateLimit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			fmt.Fprintln(out, "API key generated. Save it now, it cannot be retrieved later.")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Name:   %s\n", name)
			fmt.Fprintf(out, "  Admin:  %t\n", admin)
			fmt.Fprintf(out, "  Limit:  %d/hour\n", rateLimit)
			fmt.Fprintf(out, "  Key:    %s\n", raw)
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Name for this key (e.g. ios-shortcut)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Create an admin key for the pull client")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "Requests per hour")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newRelayListKeysCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List API keys (prefix only, never the full key)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openRelayStore(cfg, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			keys, err := st.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No API keys found. Use 'sieve relay generate-key' to create one.")
				return nil
			}
			renderKeys(cmd, keys)
			return nil
		},
	}
}

func renderKeys(cmd *cobra.Command, keys []store.APIKey) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Prefix", "Admin", "Active", "Rate", "Last Used"})
	for _, k := range keys {
		admin := "no"
		if k.IsAdmin {
			admin = "yes"
		}
		active := "yes"
		if !k.IsActive {
			active = "REVOKED"
		}
		lastUsed := ""
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{k.ID, k.Name, k.KeyPrefix, admin, active, k.RateLimit, lastUsed})
	}
	t.Render()
}

func newRelayRevokeKeyCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-key PREFIX|ID",
		Short: "Revoke an API key by its prefix or numeric ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openRelayStore(cfg, *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			target := args[0]
			out := cmd.OutOrStdout()

			if strings.HasPrefix(target, auth.KeyLiteral) {
				n, err := st.RevokeAPIKeysByPrefix(cmd.Context(), auth.KeyPrefix(target))
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("no active key found with prefix '%s'", target)
				}
				fmt.Fprintf(out, "Revoked %d key(s) with prefix '%s'.\n", n, auth.KeyPrefix(target))
				return nil
			}

			id, err := strconv.ParseInt(target, 10, 64)
			if err != nil {
				return fmt.Errorf("expected a key prefix (%s...) or numeric ID, got %q", auth.KeyLiteral, target)
			}
			if err := st.RevokeAPIKey(cmd.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no key found with ID %d", id)
				}
				return err
			}
			fmt.Fprintf(out, "Key %d has been revoked.\n", id)
			return nil
		},
	}
}

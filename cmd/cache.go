package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/localstore"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the audit cache",
		Long: `Inspect and maintain the local audit cache.

Available subcommands:
  stats - Show entry counts and the configured TTL
  purge - Delete entries older than the TTL
  clear - Delete every cached response`,
	}
	cmd.AddCommand(newCacheStatsCmd(opts), newCachePurgeCmd(opts), newCacheClearCmd(opts))
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(opts *rootOptions, fn func(store *localstore.Store) error) error {
	store, logger, err := openStore(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Localstore: close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}()
	return fn(store)
}

func newCacheStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *localstore.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				label := color.New(color.FgCyan)
				fmt.Fprintf(out, "%s %s\n", label.Sprint("Database:"), store.Path())
				fmt.Fprintf(out, "%s %d\n", label.Sprint("Entries: "), stats.Entries)
				fmt.Fprintf(out, "%s %d\n", label.Sprint("Expired: "), stats.Expired)
				fmt.Fprintf(out, "%s %s\n", label.Sprint("TTL:     "), store.TTL())
				return nil
			})
		},
	}
}

func newCachePurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete cache entries older than the TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *localstore.Store) error {
				n, err := store.PurgeExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired cache entries.\n", n)
				return nil
			})
		},
	}
}

func newCacheClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached audit response",
		Long:  "Delete every cached audit response. The audit trail is kept.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *localstore.Store) error {
				out := cmd.OutOrStdout()
				if !yes {
					fmt.Fprintf(out, "This will delete all cached audit responses in: %s\n", store.Path())
					fmt.Fprint(out, "Are you sure you want to continue? [y/N]: ")

					reader := bufio.NewReader(cmd.InOrStdin())
					input, _ := reader.ReadString('\n')
					input = strings.TrimSpace(strings.ToLower(input))
					if input != "y" && input != "yes" {
						fmt.Fprintln(out, "Operation cancelled.")
						return nil
					}
				}

				n, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s Deleted %d cache entries.\n", color.GreenString("✓"), n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

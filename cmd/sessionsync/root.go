package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/sessionsync"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessionsync",
	Short: "sessionsync keeps the sessions collection in step with live sessions",
	Long: `sessionsync refreshes, removes and looks up logical session records in a
shared sessions collection. Records can live in MongoDB, Redis, local files
or in memory, optionally sharded across several stores.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (SESSIONSYNC_* variables override it)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("store", "", "Store kind: memory, file, mongo, redis or sharded")
}

// openClient builds a client from the persistent flags.
func openClient(ctx context.Context, cmd *cobra.Command) (*sessionsync.Client, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	kind, _ := cmd.Flags().GetString("store")

	client, err := sessionsync.Open(ctx, path,
		sessionsync.WithLogLevel(level),
		sessionsync.WithStoreKind(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open sessionsync: %w", err)
	}
	return client, nil
}

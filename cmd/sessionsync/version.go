package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/sessionsync"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of sessionsync",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sessionsync version %s\n", strings.TrimSpace(sessionsync.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/spf13/cobra"
)

type recordView struct {
	ID      string    `json:"id"`
	LastUse time.Time `json:"last_use"`
	User    string    `json:"user,omitempty"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <session-id>",
	Short: "Print the stored record of a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := domain.ParseLogicalSessionID(args[0])
		if err != nil {
			return err
		}

		client, err := openClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		rec, err := client.Collection.FetchRecord(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := recordView{ID: rec.ID.String(), LastUse: rec.LastUse}
		if rec.User != nil {
			out.User = rec.User.Name
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <session-id>...",
	Short: "Mark sessions as used now",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		records := make(domain.RecordSet, len(args))
		for _, arg := range args {
			id, err := domain.ParseLogicalSessionID(arg)
			if err != nil {
				return err
			}
			rec := domain.Record{ID: id}
			if user != "" {
				rec.User = &domain.Principal{Name: user}
			}
			records.Add(rec)
		}

		client, err := openClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Collection.RefreshSessions(cmd.Context(), records, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d sessions\n", len(records))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "rm <session-id>...",
	Aliases: []string{"remove"},
	Short:   "Remove the records of ended sessions",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make(domain.IDSet, len(args))
		for _, arg := range args {
			id, err := domain.ParseLogicalSessionID(arg)
			if err != nil {
				return err
			}
			ids.Add(id)
		}

		client, err := openClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Collection.RemoveRecords(cmd.Context(), ids); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", len(ids))
		return nil
	},
}

var newIDCmd = &cobra.Command{
	Use:   "new-id",
	Short: "Print a fresh logical session id",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var owner *domain.Principal
		if user, _ := cmd.Flags().GetString("user"); user != "" {
			owner = &domain.Principal{Name: user}
		}
		fmt.Fprintln(cmd.OutOrStdout(), domain.NewLogicalSessionID(owner).String())
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare the sessions collection (expiry index on lastUse)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Setup(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sessions collection ready (%s store)\n", client.StoreKind())
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringP("user", "u", "", "Principal owning the sessions")
	newIDCmd.Flags().StringP("user", "u", "", "Tag the id with this owner")

	rootCmd.AddCommand(fetchCmd, refreshCmd, removeCmd, newIDCmd, setupCmd)
}

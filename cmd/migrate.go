package cmd

import (
	"fmt"

	"betledger/config"
	"betledger/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := config.Get().ConnectionURL()
			if err != nil {
				return err
			}
			return database.MigrateUp(dbURL)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := config.Get().ConnectionURL()
			if err != nil {
				return err
			}
			steps := "1"
			if len(args) == 1 {
				steps = args[0]
			}
			return database.MigrateDown(dbURL, steps)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, err := config.Get().ConnectionURL()
			if err != nil {
				return err
			}
			status, err := database.GetMigrationStatus(dbURL)
			if err != nil {
				return err
			}
			if !status.Applied {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %d, Dirty: %v\n", status.Version, status.Dirty)
			return nil
		},
	})

	return cmd
}

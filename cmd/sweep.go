package cmd

import (
	"fmt"

	"betledger/config"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry, notice and reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Get())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.worker.RunOnce(cmd.Context())
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Locked: %d, Notified: %d", result.Locked, result.Notified)
				if result.Reconciled != nil {
					fmt.Fprintf(cmd.OutOrStdout(), ", Payouts paid: %d/%d", result.Reconciled.Paid, result.Reconciled.Attempted)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return err
		},
	}
}

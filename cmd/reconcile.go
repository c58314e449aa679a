package cmd

import (
	"fmt"
	"os"

	"betledger/config"
	"betledger/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reconcile", Short: "Inspect and retry unpaid winner payouts"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending and failed payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Get())
			if err != nil {
				return err
			}
			defer a.close()

			payouts, err := a.settlement.ListUnsettledPayouts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(payouts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unsettled payouts")
				return nil
			}
			renderPayouts(payouts)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum payouts to show")

	var batch int
	retry := &cobra.Command{
		Use:   "retry",
		Short: "Retry unsettled payouts with their original idempotency keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if batch <= 0 {
				batch = cfg.ReconcileBatchSize
			}
			summary, err := a.settlement.ReconcilePayouts(cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attempted: %d, Paid: %d, Failed: %d\n", summary.Attempted, summary.Paid, summary.Failed)
			return nil
		},
	}
	retry.Flags().IntVar(&batch, "batch", 0, "payouts per run (defaults to RECONCILE_BATCH_SIZE)")

	cmd.AddCommand(list, retry)
	return cmd
}

func renderPayouts(payouts []*models.BetPayout) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Bet", "User", "Amount", "Status", "Attempts", "Last error"})
	for _, p := range payouts {
		lastErr := ""
		if p.LastError != nil {
			lastErr = *p.LastError
		}
		tw.AppendRow(table.Row{p.ID, p.BetID, p.UserID, p.Amount, p.Status, p.Attempts, lastErr})
	}
	tw.Render()
}

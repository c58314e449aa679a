package cmd

import (
	"fmt"

	"betledger/config"

	"github.com/spf13/cobra"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage points accounts"}

	var userID int64
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with the starting balance, or show the existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Get())
			if err != nil {
				return err
			}
			defer a.close()

			user, err := a.points.GetOrCreateUser(cmd.Context(), userID, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d (%s): balance %d\n", user.UserID, user.Username, user.Balance)
			return nil
		},
	}
	create.Flags().Int64Var(&userID, "id", 0, "user ID")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("id")

	cmd.AddCommand(create)
	return cmd
}

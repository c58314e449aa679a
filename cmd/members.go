package cmd

import (
	"fmt"

	"betledger/config"

	"github.com/spf13/cobra"
)

func membersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "members", Short: "Manage group membership"}

	var groupID, userID int64
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a user to a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.Get())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.members.AddMember(cmd.Context(), groupID, userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d added to group %d\n", userID, groupID)
			return nil
		},
	}
	add.Flags().Int64Var(&groupID, "group", 0, "group ID")
	add.Flags().Int64Var(&userID, "user", 0, "user ID")
	_ = add.MarkFlagRequired("group")
	_ = add.MarkFlagRequired("user")

	cmd.AddCommand(add)
	return cmd
}

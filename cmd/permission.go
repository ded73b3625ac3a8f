package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func permissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"permissions"},
		Short:   "Manage execution permissions",
	}

	list := &cobra.Command{
		Use:   "list [user-id]",
		Short: "List permissions",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			user := ""
			if len(args) > 0 {
				user = args[0]
			}
			perms, err := db.ListPermissions(user)
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(perms))
			for _, p := range perms {
				rows = append(rows, []string{p.PermissionID, p.UserID, p.Action, p.Subject, p.Status})
			}
			printTable([]string{"ID", "USER", "ACTION", "SUBJECT", "STATUS"}, rows)
		},
	}
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <permission-id>",
		Short: "Approve a pending permission request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.ApprovePermission(args[0]); err != nil {
				fatal(err)
			}
			fmt.Println("Approved.")
		},
	})

	grant := &cobra.Command{
		Use:   "grant <user> <subject> <action> [resource]",
		Short: "Grant a permission directly",
		Args:  cobra.RangeArgs(3, 4),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			resource := "tool"
			if len(args) > 3 {
				resource = args[3]
			}
			id, err := db.GrantPermission(args[0], args[1], args[2], resource)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Granted %s on %s to %s (%s).\n", args[2], args[1], args[0], id)
		},
	}
	cmd.AddCommand(grant)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <permission-id>",
		Short: "Revoke a permission",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.RevokePermission(args[0]); err != nil {
				fatal(err)
			}
			fmt.Println("Revoked.")
		},
	})

	return cmd
}

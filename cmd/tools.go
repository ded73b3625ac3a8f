package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/store"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			tools, err := db.ListTools()
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(tools))
			for _, t := range tools {
				rows = append(rows, []string{t.Name, t.TrustClass, t.Status, t.Source})
			}
			printTable([]string{"TOOL", "TRUST", "STATUS", "SOURCE"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "register <name> <source>",
		Short: "Register a tool in the registry",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			t := &store.ToolInfo{
				Name:       args[0],
				Source:     args[1],
				TrustClass: store.TrustUnknown,
				Status:     store.ToolPending,
			}
			if err := db.UpsertTool(t); err != nil {
				fatal(err)
			}
			fmt.Printf("Registered %s (%s).\n", t.Name, t.ToolID)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "approve <name> [user-id]",
		Aliases: []string{"enable"},
		Short:   "Approve a tool; with a user id, also grant that user execute permission",
		Args:    cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.SetToolStatus(args[0], store.ToolApproved); err != nil {
				fatal(err)
			}
			if len(args) > 1 {
				if _, err := db.GrantPermission(args[1], args[0], "execute", "tool"); err != nil {
					fatal(err)
				}
			}
			fmt.Printf("Tool %s approved.\n", args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "block <name>",
		Aliases: []string{"disable"},
		Short:   "Block a tool from executing",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.SetToolStatus(args[0], store.ToolBlocked); err != nil {
				fatal(err)
			}
			fmt.Printf("Tool %s blocked.\n", args[0])
		},
	})

	return cmd
}

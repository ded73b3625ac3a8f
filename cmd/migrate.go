package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long:  "Opens the repository, which applies all pending migrations, and reports the result. The daemon migrates automatically on startup; this command exists for pre-flight checks and Postgres deployments.",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			fmt.Printf("Schema up to date (%s).\n", db.Dialect())
		},
	}
}

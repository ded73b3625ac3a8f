package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/memory"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage durable memory",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "show [user-id] [topic]",
		Aliases: []string{"list"},
		Short:   "Show memory records",
		Args:    cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			var user, topic string
			if len(args) > 0 {
				user = args[0]
			}
			if len(args) > 1 {
				topic = args[1]
			}
			records, err := db.ListMemory(user, topic)
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.Category, r.Key, clip(r.Value, 60),
					fmt.Sprintf("%.2f", r.Confidence),
					r.UpdatedAt.Format("2006-01-02"),
				})
			}
			printTable([]string{"CATEGORY", "KEY", "VALUE", "CONF", "UPDATED"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <user-id> <topic>",
		Short: "Forget memory records matching a topic",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			n, err := db.ForgetMemory(args[0], args[1])
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Forgot %d record(s).\n", n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summarize [YYYY-MM-DD]",
		Short: "Write the daily Markdown rollup for one UTC date",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			home, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			date := time.Now().UTC().Format("2006-01-02")
			if len(args) > 0 {
				date = args[0]
			}
			path, err := memory.New(db, home).Summarize(date)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Summary written to %s\n", path)
		},
	})

	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show operational counters",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			metrics, err := db.Metrics()
			if err != nil {
				fatal(err)
			}
			if len(metrics) == 0 {
				fmt.Println("No metrics recorded yet.")
				return
			}
			rows := make([][]string, 0, len(metrics))
			for _, name := range sortedKeys(metrics) {
				rows = append(rows, []string{name, fmt.Sprintf("%.4f", metrics[name])})
			}
			printTable([]string{"METRIC", "VALUE"}, rows)
		},
	}
}

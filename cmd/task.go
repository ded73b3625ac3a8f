package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect task runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent task runs",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			runs, err := db.ListRuns(limit)
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.RunID, r.Status, r.RiskLevel,
					fmt.Sprintf("%d/%d", r.LoopIteration, r.MaxIterations),
					r.AssignedAgent, clip(r.Objective, 48),
				})
			}
			printTable([]string{"RUN", "STATUS", "RISK", "LOOP", "AGENT", "OBJECTIVE"}, rows)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its steps",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			run, err := db.GetRun(args[0])
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Run:        %s\n", run.RunID)
			fmt.Printf("Status:     %s (outcome: %s)\n", run.Status, run.VerifierOutcome)
			fmt.Printf("Risk:       %s, loop %d/%d\n", run.RiskLevel, run.LoopIteration, run.MaxIterations)
			fmt.Printf("Agent:      %s\n", run.AssignedAgent)
			fmt.Printf("Channel:    %s (%s)\n", run.Channel, run.SenderID)
			fmt.Printf("Objective:  %s\n", run.Objective)
			if run.ResultText != "" {
				fmt.Printf("\nResult:\n%s\n", run.ResultText)
			}

			steps, err := db.ListSteps(run.RunID)
			if err == nil && len(steps) > 0 {
				fmt.Println("\nSteps:")
				for _, s := range steps {
					fmt.Printf("  [%d] %-8s %s\n", s.Iteration, s.Kind, clip(s.Detail, 100))
				}
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the audit trail of one run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			events, err := db.ListEvents(args[0])
			if err != nil {
				fatal(err)
			}
			for _, ev := range events {
				payload := ""
				if len(ev.Payload) > 0 {
					compact, _ := json.Marshal(ev.Payload)
					payload = string(compact)
				}
				fmt.Printf("%s  %-26s %s\n", ev.CreatedAt.Format("15:04:05"), ev.Type, clip(payload, 90))
			}
		},
	})

	return cmd
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

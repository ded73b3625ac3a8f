package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func harnessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Control the task harness",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Enable the harness",
		Run: func(cmd *cobra.Command, args []string) {
			home, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := cfg.SetHarnessEnabled(home, true); err != nil {
				fatal(err)
			}
			fmt.Println("Harness enabled.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable the harness (messages pass through unprocessed)",
		Run: func(cmd *cobra.Command, args []string) {
			home, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := cfg.SetHarnessEnabled(home, false); err != nil {
				fatal(err)
			}
			fmt.Println("Harness disabled.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "autonomy <low|normal|strict>",
		Short: "Set the autonomy level",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			home, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := cfg.SetAutonomy(home, args[0]); err != nil {
				fatal(err)
			}
			fmt.Printf("Autonomy set to %s.\n", args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show harness configuration and counters",
		Run: func(cmd *cobra.Command, args []string) {
			_, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			fmt.Printf("Enabled:      %v\n", cfg.Harness.Enabled)
			fmt.Printf("Autonomy:     %s\n", cfg.Harness.Autonomy)
			fmt.Printf("Quiet hours:  %s–%s\n", cfg.Harness.QuietHours.Start, cfg.Harness.QuietHours.End)
			fmt.Printf("Digest time:  %s\n", cfg.Harness.DigestTime)
			fmt.Printf("Browser:      enabled=%v provider=%s hard_stop_payments=%v\n",
				cfg.Harness.Browser.Enabled, cfg.Harness.Browser.Provider, cfg.Harness.Browser.HardStopPayments)

			metrics, err := db.Metrics()
			if err == nil && len(metrics) > 0 {
				fmt.Println("\nCounters:")
				for _, name := range sortedKeys(metrics) {
					fmt.Printf("  %-28s %.2f\n", name, metrics[name])
				}
			}
		},
	})

	return cmd
}

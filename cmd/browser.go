package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/browser"
)

func browserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browser",
		Short: "Inspect browser sessions and replay traces",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List known debugger sessions",
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			sessions, err := db.ListBrowserSessions("")
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.Host + ":" + strconv.Itoa(s.Port), s.Status,
					clip(s.ProfilePath, 50), s.UpdatedAt.Format("2006-01-02 15:04"),
				})
			}
			printTable([]string{"ENDPOINT", "STATUS", "PROFILE", "UPDATED"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tabs [run-id]",
		Short: "List automation tabs, optionally for one run",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			runID := ""
			if len(args) > 0 {
				runID = args[0]
			}
			tabs, err := db.ListTabs(runID)
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(tabs))
			for _, t := range tabs {
				rows = append(rows, []string{
					t.TabID, t.RunID, t.Status, t.UpdatedAt.Format("2006-01-02 15:04"),
				})
			}
			printTable([]string{"TAB", "RUN", "STATUS", "UPDATED"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "attach",
		Short: "Probe for an automation provider and record the session",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			home, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			auto, err := browser.NewSessionManager(cfg, db, home, slog.Default()).Attach(ctx)
			if err != nil {
				fatal(err)
			}
			defer auto.Close()
			fmt.Println("Attached; session recorded.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a held browser action",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.DecideBrowserApproval(args[0], "approved"); err != nil {
				fatal(err)
			}
			fmt.Println("Approved.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a held browser action",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, _, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()
			if err := db.DecideBrowserApproval(args[0], "denied"); err != nil {
				fatal(err)
			}
			fmt.Println("Denied.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approvals [user-id]",
		Short: "List browser action approvals",
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
			approvals, err := db.ListBrowserApprovals(user)
			if err != nil {
				fatal(err)
			}
			rows := make([][]string, 0, len(approvals))
			for _, a := range approvals {
				rows = append(rows, []string{a.ApprovalID, a.Status, clip(a.Reason, 60)})
			}
			printTable([]string{"APPROVAL", "STATUS", "REASON"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replay <run-id> [user-id]",
		Short: "Replay the recorded browser trace of a run",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			home, cfg, db, err := openEnv()
			if err != nil {
				fatal(err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			user := ""
			if len(args) > 1 {
				user = args[1]
			}
			exec := browser.NewExecutor(cfg, db, home, slog.Default())
			res, replayID, err := exec.Replay(ctx, args[0], user)
			if errors.Is(err, browser.ErrNoTrace) {
				fmt.Println("No replayable browser trace found for that run.")
				return
			}
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Replay run %s finished: %s\n%s\n", replayID, res.Status, res.Message)
		},
	})

	return cmd
}

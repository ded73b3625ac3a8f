package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/config"
	"github.com/nextlevelbuilder/tinyagi/internal/store"
	"github.com/nextlevelbuilder/tinyagi/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/tinyagi/cmd.Version=v1.0.0"
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tinyagi",
	Short: "tinyagi — personal assistant orchestrator",
	Long:  "tinyagi runs a long-lived assistant daemon: a file-queue message pump, per-agent pipelines, a generate→verify→revise harness, tooling and browser executors, durable memory and a proactive scheduler.",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(harnessCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(browserCmd())
	rootCmd.AddCommand(permissionCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(skillsCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tinyagi %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// setupLogging installs the global slog handler.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openEnv resolves the state home, loads settings and opens the repository.
// Shared by every non-daemon subcommand.
func openEnv() (string, *config.Config, *store.DB, error) {
	home, err := config.StateHome()
	if err != nil {
		return "", nil, nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return "", nil, nil, err
	}
	db, err := store.Open(home)
	if err != nil {
		return "", nil, nil, err
	}
	return home, cfg, db, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tinyagi/internal/harness"
	"github.com/nextlevelbuilder/tinyagi/internal/proactive"
	"github.com/nextlevelbuilder/tinyagi/internal/processor"
	"github.com/nextlevelbuilder/tinyagi/internal/queue"
	"github.com/nextlevelbuilder/tinyagi/internal/tracing"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the assistant daemon (queue pump, harness, scheduler)",
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon()
		},
	}
}

func runDaemon() {
	setupLogging()
	log := slog.Default()

	home, cfg, db, err := openEnv()
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracing.Setup(ctx, cfg.Telemetry, "tinyagi")
	if err != nil {
		log.Warn("telemetry setup failed", "error", err)
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(flushCtx)
		}()
	}

	spool, err := queue.New(home)
	if err != nil {
		fatal(err)
	}

	orch := harness.NewOrchestrator(cfg, db, home, log)
	sched := proactive.New(cfg, db, spool, home, log)
	proc := processor.New(cfg, db, spool, orch, sched, home, log)

	go sched.Run(ctx)

	log.Info("tinyagi daemon started", "home", home, "version", Version)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		fatal(err)
	}
	log.Info("tinyagi daemon stopped")

	_ = os.Stdout.Sync()
}
